package model

import "time"

// Blob is a stored binary attachment, usually a tea photo.
type Blob struct {
	ID        string    `json:"id"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
