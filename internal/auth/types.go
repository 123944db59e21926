package auth

import "time"

// User is a login account. Disabled accounts never authenticate.
type User struct {
	Username     string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
}

// Identity is the authenticated principal attached to a request that carries
// a valid session.
type Identity struct {
	Username  string    `json:"username"`
	SessionID string    `json:"sessionId"`
	IP        string    `json:"ip"`
	IssuedAt  time.Time `json:"issuedAt"`
}
