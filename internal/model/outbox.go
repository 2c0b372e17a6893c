package model

import (
	"encoding/json"
	"time"
)

type OutboxOp string

const (
	OutboxUpsert OutboxOp = "upsert"
	OutboxDelete OutboxOp = "delete"
)

// Collection names used by the outbox, the sync state table and the remote tables.
const (
	CollectionTeas     = "teas"
	CollectionBrewLogs = "brew_logs"
)

// OutboxIntent is a pending remote mutation for a single record.
type OutboxIntent struct {
	ID         int64           `json:"id"`
	Collection string          `json:"collection"`
	Op         OutboxOp        `json:"op"`
	RecordID   string          `json:"record_id"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
