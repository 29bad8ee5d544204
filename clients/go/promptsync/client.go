// Package promptsync provides a client for the PromptSync teleprompter relay.
package promptsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrNoRoom is returned when a room-scoped call has no saved credentials.
var ErrNoRoom = errors.New("no room credentials: create or join a room first")

// Client is a PromptSync API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	RoomID     string
	RoomSecret string
	HTTPClient *http.Client
}

// Config holds saved room credentials.
type Config struct {
	RoomID     string `json:"room_id"`
	RoomSecret string `json:"room_secret"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("promptsync error %d: %s", e.Status, e.Message)
}

// NewClient creates a new PromptSync client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	configDir := os.Getenv("PROMPTSYNC_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".promptsync")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads room credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "room.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.RoomID = config.RoomID
	c.RoomSecret = config.RoomSecret
	return nil
}

// SaveConfig saves room credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{RoomID: c.RoomID, RoomSecret: c.RoomSecret}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "room.json"), data, 0600)
}

// UseRoom sets the credentials used by room-scoped calls.
func (c *Client) UseRoom(roomID, secret string) {
	c.RoomID = roomID
	c.RoomSecret = secret
}

// doRequest performs an HTTP request. Room-scoped requests carry the saved
// room secret.
func (c *Client) doRequest(method, path string, body any, withSecret bool) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withSecret {
		if c.RoomID == "" || c.RoomSecret == "" {
			return nil, 0, ErrNoRoom
		}
		req.Header.Set("X-Room-Secret", c.RoomSecret)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return respBody, resp.StatusCode, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, resp.StatusCode, nil
}

func (c *Client) call(method, path string, body any, withSecret bool, out any) error {
	respBody, _, err := c.doRequest(method, path, body, withSecret)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// CreateRoomResponse is the response from creating a room. The secret is
// only ever returned here.
type CreateRoomResponse struct {
	RoomID     string `json:"room_id"`
	RoomSecret string `json:"room_secret"`
	RoomName   string `json:"room_name"`
}

// CreateRoom creates a room and remembers its credentials. An empty name
// lets the server pick one.
func (c *Client) CreateRoom(name string) (*CreateRoomResponse, error) {
	var resp CreateRoomResponse
	if err := c.call(http.MethodPost, "/api/rooms", map[string]string{"room_name": name}, false, &resp); err != nil {
		return nil, err
	}

	c.UseRoom(resp.RoomID, resp.RoomSecret)
	return &resp, nil
}

// Participant is one member of a room.
type Participant struct {
	ParticipantID string    `json:"participant_id"`
	Mode          string    `json:"mode"`
	IsController  bool      `json:"is_controller"`
	JoinedAt      time.Time `json:"joined_at"`
	LastSeen      time.Time `json:"last_seen"`
}

// RoomInfo is the public view of a room.
type RoomInfo struct {
	RoomID           string        `json:"room_id"`
	RoomName         string        `json:"room_name"`
	ParticipantCount int           `json:"participant_count"`
	ControllerID     string        `json:"controller_id,omitempty"`
	HasController    bool          `json:"has_controller"`
	Participants     []Participant `json:"participants"`
}

// GetRoom fetches room membership.
func (c *Client) GetRoom(roomID string) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.call(http.MethodGet, "/api/rooms/"+roomID, nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify checks the saved credentials against the server.
func (c *Client) Verify() error {
	return c.call(http.MethodPost, c.roomPath("/verify"), nil, true, nil)
}

// Rename renames the room. participantID must be the room's controller.
func (c *Client) Rename(participantID, name string) error {
	body := map[string]string{"participant_id": participantID, "room_name": name}
	return c.call(http.MethodPut, c.roomPath("/name"), body, true, nil)
}

// Kick removes targetID from the room on behalf of the controller kickerID.
func (c *Client) Kick(kickerID, targetID string) error {
	return c.call(http.MethodDelete, c.roomPath("/participants/"+targetID+"?kicker_id="+kickerID), nil, true, nil)
}

// CommandResponse is returned by playback and scroll commands.
type CommandResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
}

// Playback sends "start", "pause" or "reset" to every display.
func (c *Client) Playback(action string) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.call(http.MethodPost, c.roomPath("/playback/"+action), nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scroll moves displays. direction is "forward", "back", "top" or
// "bottom"; lines is ignored for top and bottom and defaults to 5 when 0.
func (c *Client) Scroll(direction string, lines int) (*CommandResponse, error) {
	path := "/scroll/" + direction
	if lines > 0 && (direction == "forward" || direction == "back") {
		path += fmt.Sprintf("/%d", lines)
	}

	var resp CommandResponse
	if err := c.call(http.MethodPost, c.roomPath(path), nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) roomPath(suffix string) string {
	return "/api/rooms/" + c.RoomID + suffix
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Instance          string                 `json:"instance"`
	ActiveConnections int                    `json:"active_connections"`
	Checks            map[string]interface{} `json:"checks"`
	Timestamp         string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 with a body,
// which is returned alongside the error.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, status, err := c.doRequest(http.MethodGet, "/api/health", nil, false)
	if err != nil && status != http.StatusServiceUnavailable {
		return nil, err
	}

	var resp HealthResponse
	if jerr := json.Unmarshal(respBody, &resp); jerr != nil {
		return nil, jerr
	}
	return &resp, err
}
