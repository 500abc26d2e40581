package model

import "time"

// Credentials is the remembered login. Secret is opaque to the client.
type Credentials struct {
	Username string    `json:"username"`
	Secret   string    `json:"secret"`
	SavedAt  time.Time `json:"saved_at"`
}

// User is the identity payload returned at login.
type User struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Email     string         `json:"email,omitempty"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Raw       map[string]any `json:"-"`
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// Logger provides the minimal logging contract required by the auth domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
