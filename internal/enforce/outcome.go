package enforce

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrUnavailable marks a collaborator failure the caller must fail closed on.
var ErrUnavailable = errors.New("enforce: collaborator unavailable")

const (
	MsgLoginSuccessful    = "Login successful"
	MsgInvalidCredentials = "Invalid username or password"
	MsgBlocked            = "Access Denied: Your IP has been blocked due to suspicious activity"
	MsgUnavailable        = "Service temporarily unavailable, please retry later"
)

// LoginOutcome is the result of one login decision.
type LoginOutcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	SessionID  string `json:"sessionId,omitempty"`
}

func denied(code int, msg string) LoginOutcome {
	return LoginOutcome{Success: false, Message: msg, StatusCode: code}
}

// writeDenial renders the gate's JSON denial body.
func writeDenial(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(denied(code, msg))
}
