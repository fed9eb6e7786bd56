package credapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/willowmail/willow/credential"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) (*httptest.Server, *credential.Memory) {
	t.Helper()

	creds := credential.NewMemoryWithCost(bcrypt.MinCost)
	server, err := New(creds, ServerOptions{
		Name:   "test",
		Addr:   "127.0.0.1:0",
		APIKey: testAPIKey,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.setupRoutes())
	t.Cleanup(ts.Close)
	return ts, creds
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(credential.NewMemory(), ServerOptions{Addr: "127.0.0.1:0"})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	ts, _ := newTestServer(t)

	// No Authorization header
	resp, err := http.Get(ts.URL + "/api/v1/users/alice/exists")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key
	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/users/alice/exists", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Malformed header
	req, _ = http.NewRequest("GET", ts.URL+"/api/v1/users/alice/exists", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// The client package is the canonical consumer of this API; drive the
// full lifecycle through it.
func TestUserLifecycleThroughClient(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx := context.Background()
	client := credential.NewClient(ts.URL, testAPIKey)

	exists, err := client.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := client.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.CreateUser(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, created, "duplicate create must report conflict")

	exists, err = client.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err := client.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Authenticate(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	updated, err := client.UpdateUser(ctx, "alice", "rotated")
	require.NoError(t, err)
	assert.True(t, updated)

	ok, err = client.Authenticate(ctx, "alice", "rotated")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := client.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = client.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete must report not found")

	updated, err = client.UpdateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.False(t, updated, "update of deleted user must report not found")
}

func TestValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	client := &http.Client{}

	post := func(path, body string) int {
		req, _ := http.NewRequest("POST", ts.URL+path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("/api/v1/users", `{"username":"","password":""}`))
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/users", `not json`))
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/auth", `{"username":"alice"}`))
}
