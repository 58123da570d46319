package relay

import "github.com/gluk-w/claworc/shellrelay/internal/shell"

// Inbound message types.
const (
	TypeCreate     = "session:create"
	TypeInput      = "session:input"
	TypeResize     = "session:resize"
	TypeDisconnect = "session:disconnect"
)

// Outbound message types.
const (
	TypeConnected = "session:connected"
	TypeData      = "session:data"
	TypeError     = "session:error"
	TypeClosed    = "session:closed"
)

// ClientMessage is one inbound text frame. Create carries the target in
// either "config" or "credentials".
type ClientMessage struct {
	Type        string             `json:"type"`
	SessionID   string             `json:"sessionId"`
	Config      *shell.Credentials `json:"config,omitempty"`
	Credentials *shell.Credentials `json:"credentials,omitempty"`
	Data        string             `json:"data,omitempty"`
	Cols        int                `json:"cols,omitempty"`
	Rows        int                `json:"rows,omitempty"`
}

func (m *ClientMessage) target() *shell.Credentials {
	if m.Config != nil {
		return m.Config
	}
	return m.Credentials
}

// ServerMessage is one outbound text frame.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
}
