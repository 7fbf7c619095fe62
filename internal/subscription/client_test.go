package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/professionals/pro-1/subscription":
			w.Write([]byte(`{"status":"Active"}`))
		case "/professionals/pro-2/subscription":
			w.Write([]byte(`{"status":"cancelled"}`))
		case "/professionals/broken/subscription":
			w.WriteHeader(http.StatusBadGateway)
		case "/professionals/garbage/subscription":
			w.Write([]byte(`not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "api-key", time.Second, zap.NewNop())
	ctx := context.Background()

	status, err := client.Status(ctx, "pro-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)
	assert.True(t, status.Keeps())

	status, err = client.Status(ctx, "pro-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
	assert.False(t, status.Keeps())

	status, err = client.Status(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)

	_, err = client.Status(ctx, "broken")
	assert.Error(t, err)

	_, err = client.Status(ctx, "garbage")
	assert.Error(t, err)
}

func TestClientStatusTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Status(ctx, "slow")
	assert.Error(t, err)
}

func TestStatusKeeps(t *testing.T) {
	assert.True(t, StatusTrialing.Keeps())
	assert.False(t, StatusPastDue.Keeps())
	assert.False(t, StatusNotFound.Keeps())
	assert.False(t, Status("paused").Keeps())
}
