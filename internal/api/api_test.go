package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloom/keyloom/internal/auth"
	"github.com/keyloom/keyloom/internal/config"
	"github.com/keyloom/keyloom/internal/events"
	"github.com/keyloom/keyloom/internal/store/postgres"
	"github.com/keyloom/keyloom/pkg/protocol"
)

const testToken = "e2e-token"

func testConfig() *config.Config {
	return &config.Config{
		MaxBodySize: 1 << 20,
		SearchLimit: 100,
	}
}

// newTestServer builds a handler backed by TEST_DATABASE_URL with a static
// bearer token, skipping when the database is unavailable.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	store, err := postgres.New(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate("../../migrations"))
	_, err = store.DB().Exec(`TRUNCATE translation_keys CASCADE`)
	require.NoError(t, err)

	a := auth.New(store.DB(), "test-secret", time.Hour)
	a.UseVerifier(auth.NewStaticVerifier(testToken, "e2e", "admin"))
	b := events.NewBroadcaster()
	t.Cleanup(b.Close)

	return NewServer(store, a, b, testConfig()).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	a := auth.New(nil, "secret", time.Hour)
	a.UseVerifier(auth.NewStaticVerifier(testToken, "e2e", "admin"))
	h := NewServer(nil, a, events.NewBroadcaster(), testConfig()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRequiresToken(t *testing.T) {
	a := auth.New(nil, "secret", time.Hour)
	a.UseVerifier(auth.NewStaticVerifier(testToken, "e2e", "admin"))
	h := NewServer(nil, a, events.NewBroadcaster(), testConfig()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/keys/children", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeyLifecycle_Integration(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"app.title", "checkout.button.submit", "checkout.button.cancel"} {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/keys", protocol.CreateKeyRequest{Path: path})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// Duplicate create conflicts
	rec := doJSON(t, h, http.MethodPost, "/api/v1/keys", protocol.CreateKeyRequest{Path: "app.title"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Root listing
	rec = doJSON(t, h, http.MethodGet, "/api/v1/keys/children", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children protocol.ChildrenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&children))
	require.Len(t, children.Entries, 2)
	assert.Equal(t, "app", children.Entries[0].Segment)
	assert.Equal(t, "checkout", children.Entries[1].Segment)
	assert.True(t, children.Entries[0].IsFolder)

	// Nested listing
	rec = doJSON(t, h, http.MethodGet, "/api/v1/keys/children?parent=checkout.button", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	children = protocol.ChildrenResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&children))
	require.Len(t, children.Entries, 2)
	assert.Equal(t, "checkout.button.cancel", children.Entries[0].FullPath)
	assert.False(t, children.Entries[0].IsFolder)

	// Search
	rec = doJSON(t, h, http.MethodGet, "/api/v1/keys/search?q=button", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var search protocol.SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&search))
	assert.Equal(t, 2, search.Total)

	// Subtree delete
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/keys/checkout.button", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted protocol.DeleteKeysResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&deleted))
	assert.Equal(t, int64(2), deleted.Deleted)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/keys/checkout.button", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChildren_InvalidParent_Integration(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/keys/children?parent=Bad%20Path", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestChildren_Gzip_Integration(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/keys", protocol.CreateKeyRequest{Path: "app.title"})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys/children", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gr)
	require.NoError(t, err)

	var children protocol.ChildrenResponse
	require.NoError(t, json.Unmarshal(raw, &children))
	require.Len(t, children.Entries, 1)
	assert.Equal(t, "app", children.Entries[0].Segment)
}

func TestVariantFlow_Integration(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/keys", protocol.CreateKeyRequest{Path: "app.title"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/languages", protocol.LanguageRequest{Code: "en", Name: "English"})
	if rec.Code != http.StatusCreated {
		// Language may survive the key-space truncation from an earlier run
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/keys/app.title/variants", protocol.SetVariantRequest{
		Language: "en", Value: "My App",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/v1/keys/app.title/variants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var variants protocol.VariantListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&variants))
	require.Len(t, variants.Variants, 1)
	assert.Equal(t, "My App", variants.Variants[0].Value)
	assert.Equal(t, "draft", variants.Variants[0].Status)

	rec = doJSON(t, h, http.MethodPut, "/api/v1/keys/no.such.key/variants", protocol.SetVariantRequest{
		Language: "en", Value: "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats_Integration(t *testing.T) {
	h := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/keys",
			protocol.CreateKeyRequest{Path: fmt.Sprintf("stats.key%d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats protocol.StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(3), stats.Keys)
}
