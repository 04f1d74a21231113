package domain

import (
	"encoding/json"
	"time"
)

// ApprovalPrompt is shown to the user for a request that needs consent.
type ApprovalPrompt struct {
	RequestID   string          `json:"requestId"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params"`
	Origin      string          `json:"origin"`
	Domain      string          `json:"domain"`
	Site        string          `json:"site"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}
