package console

import (
	"bytes"
	"encoding/json"
)

// Frame is one console protocol message.
type Frame struct {
	Event string   `json:"event"`
	Args  []string `json:"args,omitempty"`
}

const (
	EventAuth           = "auth"
	EventAuthSuccess    = "auth success"
	EventTokenExpiring  = "token expiring"
	EventTokenExpired   = "token expired"
	EventConsoleOutput  = "console output"
	EventDaemonMessage  = "daemon message"
	EventDaemonError    = "daemon error"
	EventStatus         = "status"
	EventSendCommand    = "send command"
	EventSetState       = "set state"
	EventRequestStats   = "send stats"
	EventRequestLogs    = "send logs"
	EventInstallOutput  = "install output"
	EventBackupComplete = "backup completed"
)

func AuthFrame(token string) []byte {
	b, _ := json.Marshal(Frame{Event: EventAuth, Args: []string{token}})
	return b
}

// RewriteFrame replaces every occurrence of from with to in a daemon text
// frame. It returns frame itself when there is nothing to replace.
func RewriteFrame(frame []byte, from, to string) []byte {
	if from == "" || from == to || !bytes.Contains(frame, []byte(from)) {
		return frame
	}
	return bytes.ReplaceAll(frame, []byte(from), []byte(to))
}

// eventOf returns the event name of a frame, or "" if it is not one.
func eventOf(frame []byte) string {
	var f struct {
		Event string `json:"event"`
	}
	if json.Unmarshal(frame, &f) != nil {
		return ""
	}
	return f.Event
}
