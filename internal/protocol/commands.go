package protocol

// Playback commands understood by display clients and the OBS bridge.
const (
	TypeStart         = "start"
	TypePause         = "pause"
	TypeReset         = "reset"
	TypeScrollLines   = "scroll_lines"
	TypeGoToBeginning = "go_to_beginning"
	TypeGoToEnd       = "go_to_end"
)

// Scroll directions for TypeScrollLines.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// DefaultScrollLines is used when a scroll command names no line count.
const DefaultScrollLines = 5

// Command builds a payload-free playback command.
func Command(msgType string) Payload {
	return Payload{KeyType: msgType}
}

// ScrollLines builds a smooth relative scroll command.
func ScrollLines(direction string, lines int) Payload {
	if lines <= 0 {
		lines = DefaultScrollLines
	}
	return Payload{
		KeyType:     TypeScrollLines,
		"direction": direction,
		"lines":     lines,
		"smooth":    true,
	}
}
