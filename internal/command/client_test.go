package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc-gp/gustlink"
)

func okHandler(t *testing.T, gotAuth *string, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		*gotAuth = r.Header.Get("Authorization")

		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sendConsoleMessage", req.OperationName)
		assert.EqualValues(t, 1722255, req.Variables["sid"])
		assert.Equal(t, "US", req.Variables["region"])

		w.Write([]byte(`{"data":{"sendConsoleMessage":{"ok":true}}}`))
	}
}

// TestSend tests the happy path carries the bearer token and variables
func TestSend(t *testing.T) {
	t.Parallel()

	var auth string
	var calls atomic.Int32
	srv := httptest.NewServer(okHandler(t, &auth, &calls))
	defer srv.Close()

	c := New("tok123", Options{Endpoint: srv.URL, RetryDelay: time.Millisecond})
	err := c.Send(context.Background(), 1722255, gustlink.RegionUS, "say hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", auth)
	assert.EqualValues(t, 1, calls.Load())
}

// TestSendValidation tests argument rejection happens before any request
func TestSendValidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New("tok", Options{Endpoint: srv.URL})

	err := c.Send(context.Background(), 0, gustlink.RegionUS, "x")
	assert.ErrorIs(t, err, gustlink.ErrInvalidServerID)

	err = c.Send(context.Background(), 1, gustlink.Region("XX"), "x")
	assert.ErrorIs(t, err, gustlink.ErrUnknownRegion)

	assert.Zero(t, calls.Load())
}

// TestSendRetriesTransientFailures tests 5xx responses retry then succeed
func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"sendConsoleMessage":{"ok":true}}}`))
	}))
	defer srv.Close()

	c := New("tok", Options{Endpoint: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	err := c.Send(context.Background(), 1, gustlink.RegionEU, "restart 300")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

// TestSendExhaustsRetries tests a persistent failure surfaces after the
// retry budget
func TestSendExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("tok", Options{Endpoint: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	err := c.Send(context.Background(), 1, gustlink.RegionUS, "x")
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus two retries")
}

// TestSendAuthRejectionNotRetried tests 401/403 short-circuit the retry loop
func TestSendAuthRejectionNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("stale-token", Options{Endpoint: srv.URL, MaxRetries: 5, RetryDelay: time.Millisecond})
	err := c.Send(context.Background(), 1, gustlink.RegionUS, "x")
	assert.ErrorIs(t, err, gustlink.ErrAuthRejected)
	assert.EqualValues(t, 1, calls.Load())
}

// TestSendGraphQLErrors tests GraphQL-level errors are surfaced
func TestSendGraphQLErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"server not found"}]}`))
	}))
	defer srv.Close()

	c := New("tok", Options{Endpoint: srv.URL, MaxRetries: 0, RetryDelay: time.Millisecond})
	err := c.Send(context.Background(), 1, gustlink.RegionUS, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}
