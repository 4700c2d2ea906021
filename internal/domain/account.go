package domain

import (
	"regexp"
	"strings"
)

// Role is the privilege level of a resident account.
type Role string

const (
	RoleResident Role = "resident"
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
)

// Account is a backend user linked to a chat identity.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Locale      string `json:"locale"`
	Role        Role   `json:"role"`
	Unit        string `json:"unit,omitempty"` // e.g. "B-204"
}

// IsAdmin reports whether the account carries admin privilege.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

var usernameCleaner = regexp.MustCompile(`[^a-z0-9_]`)

// UsernameFromChatID extracts and normalizes the local part of a chat
// identity of the form "@user:server". Returns "" if the identity is not in
// that form.
func UsernameFromChatID(chatID string) string {
	if !strings.HasPrefix(chatID, "@") {
		return ""
	}
	local := chatID[1:]
	if i := strings.IndexByte(local, ':'); i > 0 {
		local = local[:i]
	}
	if local == "" {
		return ""
	}
	return usernameCleaner.ReplaceAllString(strings.ToLower(local), "_")
}
