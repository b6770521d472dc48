package domain

import (
	"encoding/json"
	"time"
)

// Project describes a deployable site owned by a user.
type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Content     json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
