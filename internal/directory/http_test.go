package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_ResolveManagerChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/employees/emp-1/managers", r.URL.Path)
		w.Write([]byte(`{"managers":["mgr-1","mgr-2"]}`)) //nolint:errcheck
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second)
	chain, err := c.ResolveManagerChain(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, chain)
}

func TestHTTPClient_ListTeamMembers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/t1/team", r.URL.Path)
		w.Write([]byte(`{"members":["emp-1","emp-2","emp-3"]}`)) //nolint:errcheck
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second)
	members, err := c.ListTeamMembers(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestHTTPClient_EscapesPathSegments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"managers":[]}`)) //nolint:errcheck
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second)
	_, err := c.ResolveManagerChain(context.Background(), "emp/../1")
	require.NoError(t, err)
	assert.Equal(t, "/employees/emp%2F..%2F1/managers", gotPath)
}

func TestHTTPClient_NonOKStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second)
	_, err := c.ResolveManagerChain(context.Background(), "emp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
