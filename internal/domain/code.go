package domain

import "time"

// CodePurpose scopes a one-time code to a single flow.
type CodePurpose string

const (
	PurposeLogin     CodePurpose = "login"
	PurposeLinkPhone CodePurpose = "link_phone"
)

// Valid reports whether the purpose is one of the known flows.
func (p CodePurpose) Valid() bool {
	return p == PurposeLogin || p == PurposeLinkPhone
}

// PhoneCode is a short-lived numeric credential proving control of a phone
// number. A code is single-purpose and one-shot: once Verified is set it can
// never pass verification again, and once Attempts reaches the ceiling the
// code is dead regardless of the submitted value.
type PhoneCode struct {
	ID        int64       `json:"id"`
	Phone     string      `json:"phone"`
	Purpose   CodePurpose `json:"purpose"`
	Code      string      `json:"code"`
	Attempts  int         `json:"attempts"`
	Verified  bool        `json:"verified"`
	Channel   string      `json:"channel,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
}

// Expired reports whether the code is past its validity window.
func (c PhoneCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Consumed reports whether the code can no longer be verified.
func (c PhoneCode) Consumed(maxAttempts int) bool {
	return c.Verified || c.Attempts >= maxAttempts
}
