// Package events delivers login outcomes to the downstream threat detector.
package events

import (
	"encoding/json"
	"time"
)

// Topic is the channel every login event is published on.
const Topic = "auth-events"

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// LoginEvent is the record of one login attempt. It is never persisted here.
type LoginEvent struct {
	IP        string
	Status    Status
	Timestamp time.Time
	Username  string
}

type wireEvent struct {
	IP        string `json:"ip"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
	Username  string `json:"username,omitempty"`
}

// MarshalJSON renders the broker payload with an RFC 3339 timestamp.
func (e LoginEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		IP:        e.IP,
		Status:    e.Status,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Username:  e.Username,
	})
}

// Key is the partition key: all events for one IP land on one partition.
func (e LoginEvent) Key() string { return e.IP }

// New stamps an event with the current time.
func New(ip string, status Status, username string) LoginEvent {
	return LoginEvent{IP: ip, Status: status, Timestamp: time.Now().UTC(), Username: username}
}
