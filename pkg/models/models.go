// Package models contains shared data types used by the server and clients.
package models

import "time"

// KeyEntry is one direct child of a dotted key prefix, as listed by the
// children endpoint. IsFolder is true when deeper keys exist under FullPath.
type KeyEntry struct {
	FullPath   string `json:"full_path"`
	Segment    string `json:"segment"`
	IsFolder   bool   `json:"is_folder"`
	ChildCount int    `json:"child_count"`
}

// Language is a translation target language.
type Language struct {
	ID      int    `json:"id"`
	Code    string `json:"code"` // BCP-47
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Jurisdiction is a regional content variant (e.g. a market or legal region).
type Jurisdiction struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// TranslationKey is a complete dotted key.
type TranslationKey struct {
	ID          int       `json:"id"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Variant is the translated value of a key for one language and
// optional jurisdiction.
type Variant struct {
	KeyPath      string    `json:"key_path"`
	Language     string    `json:"language"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Value        string    `json:"value"`
	Status       string    `json:"status"` // "draft" or "published"
	UpdatedAt    time.Time `json:"updated_at"`
}

// Variant statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Role is a named set of permissions.
type Role struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// User is an account that can sign in to the admin API.
type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
