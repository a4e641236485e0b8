package models

import "time"

// Visitor is one open viewing session of a canvas. Anonymous users can have
// several sessions, so SessionID rather than UserID identifies the entry.
type Visitor struct {
	SessionID string    `json:"sessionId"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	JoinedAt  time.Time `json:"joinedAt"`
}
