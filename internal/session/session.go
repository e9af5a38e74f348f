package session

import "time"

// State represents the lifecycle state of a server-side conversation.
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// Session holds metadata for one assistant conversation as the server
// tracks it. ID doubles as the session token handed to clients.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	State      State     `json:"state"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Turn is one query and the reply the server produced for it.
type Turn struct {
	SessionID string    `json:"sessionId"`
	Query     string    `json:"query"`
	ReplyType string    `json:"replyType"`
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}
