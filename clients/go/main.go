// PromptSync CLI - command line client for the PromptSync relay
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/eldtechnologies/promptsync/clients/go/promptsync"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PROMPTSYNC_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	client := promptsync.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		if resp != nil {
			printJSON(resp)
		}
		exitOnError(err)

	case "create":
		name := ""
		if len(os.Args) > 2 {
			name = os.Args[2]
		}
		resp, err := client.CreateRoom(name)
		exitOnError(err)
		exitOnError(client.SaveConfig())
		fmt.Printf("Room:   %s (%s)\nSecret: %s\n", resp.RoomName, resp.RoomID, resp.RoomSecret)

	case "use":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: promptsync use <room_id> <secret>")
			os.Exit(1)
		}
		client.UseRoom(os.Args[2], os.Args[3])
		exitOnError(client.Verify())
		exitOnError(client.SaveConfig())
		fmt.Println("Credentials verified and saved")

	case "info":
		roomID := client.RoomID
		if len(os.Args) > 2 {
			roomID = os.Args[2]
		}
		resp, err := client.GetRoom(roomID)
		exitOnError(err)
		printJSON(resp)

	case "start", "pause", "reset":
		resp, err := client.Playback(cmd)
		exitOnError(err)
		fmt.Printf("%s (delivered to %d)\n", resp.Message, resp.Delivered)

	case "forward", "back", "top", "bottom":
		lines := 0
		if len(os.Args) > 2 {
			n, err := strconv.Atoi(os.Args[2])
			exitOnError(err)
			lines = n
		}
		resp, err := client.Scroll(cmd, lines)
		exitOnError(err)
		fmt.Printf("%s (delivered to %d)\n", resp.Message, resp.Delivered)

	case "watch":
		mode := "display"
		if len(os.Args) > 2 {
			mode = os.Args[2]
		}
		watch(client, mode)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch joins the saved room and prints every frame until interrupted.
func watch(client *promptsync.Client, mode string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := client.Connect(ctx, mode)
	exitOnError(err)
	fmt.Printf("Joined %s as %s (%s)\n", sess.RoomName, sess.Mode, sess.ParticipantID)

	go func() {
		<-ctx.Done()
		_ = sess.Leave()
		_ = sess.Close()
	}()

	for {
		msg, err := sess.Receive()
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "Disconnected:", err)
			}
			return
		}
		printJSON(msg)
	}
}

func usage() {
	fmt.Println(`PromptSync CLI - teleprompter relay client

Usage: promptsync <command> [options]

Commands:
  create [name]            Create a room and save its credentials
  use <room_id> <secret>   Save credentials for an existing room
  info [room_id]           Show room membership
  start | pause | reset    Playback commands
  forward [lines]          Scroll forward (default 5 lines)
  back [lines]             Scroll back (default 5 lines)
  top | bottom             Jump to beginning or end
  watch [mode]             Join as display (default) or controller and print frames
  health                   Check server health

Environment:
  PROMPTSYNC_URL      Server URL (default: http://localhost:8001)
  PROMPTSYNC_CONFIG   Config directory (default: ~/.promptsync)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
