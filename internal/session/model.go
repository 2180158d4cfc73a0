package session

import (
	"encoding/json"
	"time"
)

// Session is the persisted record of one user session. The OAuth
// artifacts are kept as raw JSON: the credential provider validates
// them on read, so a corrupted record is detected where it is used.
type Session struct {
	ID           string          `json:"id"`
	Fingerprint  string          `json:"fingerprint"`
	Registration json.RawMessage `json:"registration,omitempty"`
	Tokens       json.RawMessage `json:"tokens,omitempty"`
	Verifier     string          `json:"verifier,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastVisited  time.Time       `json:"lastVisited"`
	Expiry       time.Time       `json:"expiry"`
}

// ToolInfo describes one tool the agent can call once the session is
// authorized.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
