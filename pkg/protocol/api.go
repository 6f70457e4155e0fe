// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/keyloom/keyloom/pkg/models"
)

// ChildrenResponse is returned by GET /api/v1/keys/children.
type ChildrenResponse struct {
	Parent  string            `json:"parent"`
	Entries []models.KeyEntry `json:"entries"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// LoginRequest is the body for POST /api/v1/auth/token.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// CreateKeyRequest is the body for POST /api/v1/keys.
type CreateKeyRequest struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// DeleteKeysResponse reports how many keys a prefix delete removed.
type DeleteKeysResponse struct {
	Path    string `json:"path"`
	Deleted int64  `json:"deleted"`
}

// SearchResponse is returned by GET /api/v1/keys/search.
type SearchResponse struct {
	Query   string                  `json:"query"`
	Keys    []models.TranslationKey `json:"keys"`
	Total   int                     `json:"total"`
	Offset  int                     `json:"offset"`
	Limit   int                     `json:"limit"`
	HasMore bool                    `json:"has_more"`
}

// VariantListResponse is returned by GET /api/v1/keys/{path}/variants.
type VariantListResponse struct {
	Path     string           `json:"path"`
	Variants []models.Variant `json:"variants"`
}

// SetVariantRequest is the body for PUT /api/v1/keys/{path}/variants.
type SetVariantRequest struct {
	Language     string `json:"language"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Value        string `json:"value"`
	Status       string `json:"status,omitempty"` // defaults to draft
}

// LanguageRequest is the body for POST/PUT /api/v1/languages.
type LanguageRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// JurisdictionRequest is the body for POST/PUT /api/v1/jurisdictions.
type JurisdictionRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CreateUserRequest is the body for POST /api/v1/admin/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ChangePasswordRequest is the body for PUT /api/v1/admin/users/{id}/password.
type ChangePasswordRequest struct {
	Password string `json:"password"`
}

// RoleRequest is the body for POST/PUT /api/v1/admin/roles.
type RoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// StatsResponse is returned by GET /api/v1/admin/stats.
type StatsResponse struct {
	Keys          int64 `json:"keys"`
	Variants      int64 `json:"variants"`
	Languages     int64 `json:"languages"`
	Jurisdictions int64 `json:"jurisdictions"`
	Users         int64 `json:"users"`
}
