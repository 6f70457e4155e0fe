// Package auth provides JWT-based authentication with role permissions.
// Token verification is an injected strategy chosen once at startup: signed
// JWTs in production, a fixed bearer token for end-to-end test harnesses.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/internal/metrics"
	"github.com/keyloom/keyloom/pkg/models"
	"github.com/keyloom/keyloom/pkg/protocol"
)

type contextKey string

const userContextKey contextKey = "user"

// Permission names checked by the API layer. The special "*" grants all.
const (
	PermKeysRead       = "keys.read"
	PermKeysWrite      = "keys.write"
	PermVariantsWrite  = "variants.write"
	PermLanguagesWrite = "languages.write"
	PermAdmin          = "admin"
)

// Claims holds token claims.
type Claims struct {
	UserID      int      `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims grant the named permission.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == "*" || p == name {
			return true
		}
	}
	return false
}

// Verifier turns a bearer token into claims. Implementations: jwtVerifier
// (production) and StaticVerifier (test mode).
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Auth handles authentication and account management.
type Auth struct {
	db       *sql.DB
	secret   []byte
	tokenTTL time.Duration
	verifier Verifier
}

// New creates an Auth handler verifying signed JWTs.
func New(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Auth {
	if tokenTTL == 0 {
		tokenTTL = 30 * 24 * time.Hour
	}
	a := &Auth{
		db:       db,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
	}
	a.verifier = &jwtVerifier{a: a}
	return a
}

// UseVerifier swaps the token verifier. Called once at process start, before
// the server accepts requests.
func (a *Auth) UseVerifier(v Verifier) {
	a.verifier = v
}

// Middleware returns HTTP middleware that validates bearer tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.verifier.Verify(r.Context(), tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission wraps a handler so it runs only when the request's
// claims grant the named permission.
func RequirePermission(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || !claims.HasPermission(name) {
			sendAuthError(w, http.StatusForbidden, "permission denied: "+name)
			return
		}
		next(w, r)
	}
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// jwtVerifier validates signed tokens and checks revocation.
type jwtVerifier struct {
	a *Auth
}

func (v *jwtVerifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := v.a.parseToken(tokenStr)
	if err != nil {
		return nil, err
	}
	revoked, err := v.a.isTokenRevoked(ctx, tokenStr)
	if err != nil {
		logging.Error("token revocation check failed", zap.Error(err))
	}
	if revoked {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

// parseToken validates the signature and expiry of a JWT.
func (a *Auth) parseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// HandleLogin handles POST /api/v1/auth/token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	var (
		userID         int
		hashedPassword string
		role           string
	)
	err := a.db.QueryRowContext(r.Context(),
		`SELECT u.id, u.password, r.name
		 FROM users u JOIN roles r ON r.id = u.role_id
		 WHERE u.username = $1`,
		req.Username).Scan(&userID, &hashedPassword, &role)
	if err == sql.ErrNoRows {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: unknown user", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("login database error", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	perms, err := a.rolePermissions(r.Context(), role)
	if err != nil {
		logging.Error("role permission lookup failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}

	tokenStr, expiresAt, err := a.IssueToken(r.Context(), userID, req.Username, role, perms, req.DeviceName)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("failed to issue token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful",
		zap.String("username", req.Username),
		zap.String("role", role))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.LoginResponse{
		Token:     tokenStr,
		ExpiresAt: expiresAt,
		User:      models.User{ID: userID, Username: req.Username, Role: role},
	})
}

// IssueToken signs a JWT and records its hash for revocation tracking.
func (a *Auth) IssueToken(ctx context.Context, userID int, username, role string, perms []string, deviceName string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		Username:    username,
		Role:        role,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "keyloom",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	if deviceName == "" {
		deviceName = "unknown"
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO device_tokens (user_id, device_name, token_hash) VALUES ($1, $2, $3)`,
		userID, deviceName, hashToken(tokenStr))
	if err != nil {
		logging.Error("failed to record device token", zap.Error(err))
	}
	a.updateActiveTokenCount(ctx)

	return tokenStr, claims.ExpiresAt.Time, nil
}

// RevokeToken revokes a token by its hash.
func (a *Auth) RevokeToken(ctx context.Context, tokenStr string) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE device_tokens SET revoked = TRUE WHERE token_hash = $1`, hashToken(tokenStr))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("token not found")
	}
	a.updateActiveTokenCount(ctx)
	return nil
}

func (a *Auth) isTokenRevoked(ctx context.Context, tokenStr string) (bool, error) {
	var revoked bool
	err := a.db.QueryRowContext(ctx,
		`SELECT revoked FROM device_tokens WHERE token_hash = $1`, hashToken(tokenStr)).Scan(&revoked)
	if err == sql.ErrNoRows {
		return false, nil // Token not tracked = not revoked
	}
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (a *Auth) updateActiveTokenCount(ctx context.Context) {
	var count int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_tokens WHERE revoked = FALSE`).Scan(&count)
	if err == nil {
		metrics.SetActiveTokens(count)
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, used by the SSE stream
	return r.URL.Query().Get("token")
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
