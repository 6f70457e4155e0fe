package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keyloom/keyloom/pkg/models"
	"github.com/keyloom/keyloom/pkg/protocol"
	"github.com/keyloom/keyloom/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			Attempts: 3,
			BaseWait: time.Millisecond,
			MaxWait:  time.Millisecond,
			Factor:   1,
		},
	})
	return c, ts
}

func TestLoadChildren_Success(t *testing.T) {
	var gotParent, gotAuth string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParent = r.URL.Query().Get("parent")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ChildrenResponse{
			Parent: "button",
			Entries: []models.KeyEntry{
				{FullPath: "button.submit", Segment: "submit"},
				{FullPath: "button.labels", Segment: "labels", IsFolder: true, ChildCount: 4},
			},
		})
	}))
	defer ts.Close()
	c.SetAuthToken("tok123")

	entries, err := c.LoadChildren(context.Background(), "button")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotParent != "button" {
		t.Errorf("parent query = %q, want button", gotParent)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].FullPath != "button.labels" || !entries[1].IsFolder || entries[1].ChildCount != 4 {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestLoadChildren_Gzip(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		json.NewEncoder(gw).Encode(protocol.ChildrenResponse{
			Entries: []models.KeyEntry{{FullPath: "a", Segment: "a"}},
		})
		gw.Close()
	}))
	defer ts.Close()

	entries, err := c.LoadChildren(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].FullPath != "a" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLoadChildren_EmptyForest(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ChildrenResponse{Entries: []models.KeyEntry{}})
	}))
	defer ts.Close()

	entries, err := c.LoadChildren(context.Background(), "empty.branch")
	if err != nil {
		t.Fatalf("childless parent must not error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestLoadChildren_ServerErrorRetries(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ChildrenResponse{
			Entries: []models.KeyEntry{{FullPath: "a", Segment: "a"}},
		})
	}))
	defer ts.Close()

	entries, err := c.LoadChildren(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestLoadChildren_AuthErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "missing authentication token", Code: 401})
	}))
	defer ts.Close()

	_, err := c.LoadChildren(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want exactly 1 (4xx is not retried)", attempts.Load())
	}
}

func TestLogin_StoresToken(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "admin" || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.LoginResponse{
			Token: "issued-token",
			User:  models.User{ID: 1, Username: "admin", Role: "admin"},
		})
	}))
	defer ts.Close()

	resp, err := c.Login(context.Background(), "admin", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Token != "issued-token" {
		t.Errorf("token = %q", resp.Token)
	}

	// The stored token rides along on the next request.
	var gotAuth string
	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]models.Language{})
	}))
	defer ts2.Close()
	c.baseURL = ts2.URL
	c.Languages(context.Background())
	if gotAuth != "Bearer issued-token" {
		t.Errorf("auth header = %q, want Bearer issued-token", gotAuth)
	}
}

func TestDeleteKeys(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.DeleteKeysResponse{Path: "button", Deleted: 7})
	}))
	defer ts.Close()

	resp, err := c.DeleteKeys(context.Background(), "button")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Deleted != 7 {
		t.Errorf("deleted = %d, want 7", resp.Deleted)
	}
}

func TestAPIErrorMessageSurfaced(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "key already exists", Code: 409})
	}))
	defer ts.Close()

	_, err := c.CreateKey(context.Background(), "button.submit", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "key already exists (status 409)" {
		t.Errorf("error = %q", got)
	}
	if !c.IsOnline() {
		t.Error("a 4xx response still means the server is online")
	}
}
