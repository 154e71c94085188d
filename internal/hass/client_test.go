package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avhall/hearth/internal/models"
)

// --- Mocks ---

type mockStore struct {
	mu       sync.Mutex
	upserted []models.Connection
	err      error
}

func (m *mockStore) Upsert(_ context.Context, conn *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.upserted = append(m.upserted, *conn)
	return nil
}

func (m *mockStore) MostRecent(_ context.Context) (*models.Connection, error) { return nil, nil }
func (m *mockStore) Delete(_ context.Context, _ string) error                 { return nil }
func (m *mockStore) Close() error                                             { return nil }

func (m *mockStore) lastUpsert() (models.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.upserted) == 0 {
		return models.Connection{}, false
	}
	return m.upserted[len(m.upserted)-1], true
}

func testConnection(baseURL string) models.Connection {
	return models.Connection{
		ID:           "conn-1",
		URL:          baseURL,
		AccessToken:  "old",
		RefreshToken: "r1",
	}
}

// refreshServer serves /api/states requiring Bearer <validToken> and a token
// endpoint rotating to it. Counters track the calls made.
type refreshServer struct {
	validToken    string
	refreshCalls  atomic.Int64
	stateCalls    atomic.Int64
	refreshStatus int
	rotateRefresh string
}

func (s *refreshServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		_ = r.ParseForm()
		if s.refreshStatus != 0 && s.refreshStatus != http.StatusOK {
			w.WriteHeader(s.refreshStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		resp := map[string]any{
			"access_token": s.validToken,
			"token_type":   "Bearer",
			"expires_in":   1800,
		}
		if s.rotateRefresh != "" {
			resp["refresh_token"] = s.rotateRefresh
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/states", func(w http.ResponseWriter, r *http.Request) {
		s.stateCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+s.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})
	return mux
}

// --- Tests ---

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"message":"API running."}`))
	}))
	defer srv.Close()

	conn := testConnection(srv.URL)
	conn.AccessToken = "abc"
	client := NewClient(conn)

	msg, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "API running.", msg)
}

func TestStatesRefreshRetry(t *testing.T) {
	backend := &refreshServer{validToken: "new"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &mockStore{}
	client := NewClient(testConnection(srv.URL), WithStore(store), WithClientID("https://example.test"))

	states, err := client.States(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)

	assert.Equal(t, int64(1), backend.refreshCalls.Load())
	assert.Equal(t, int64(2), backend.stateCalls.Load())
	assert.Equal(t, "new", client.Connection().AccessToken)

	// Refresh token not rotated by the server, so the old one survives.
	assert.Equal(t, "r1", client.Connection().RefreshToken)

	saved, ok := store.lastUpsert()
	require.True(t, ok, "refreshed token should be persisted")
	assert.Equal(t, "new", saved.AccessToken)
	assert.False(t, saved.LastConnectedAt.IsZero())
}

func TestRetryOnceThenFail(t *testing.T) {
	var refreshCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "new", "expires_in": 1800})
	})
	var stateCalls atomic.Int64
	mux.HandleFunc("/api/states", func(w http.ResponseWriter, r *http.Request) {
		stateCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"still no"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	_, err := client.States(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)

	// One refresh, two attempts, no loop.
	assert.Equal(t, int64(1), refreshCalls.Load())
	assert.Equal(t, int64(2), stateCalls.Load())
}

func TestRefreshFailurePropagates(t *testing.T) {
	backend := &refreshServer{validToken: "new", refreshStatus: http.StatusBadRequest}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	_, err := client.States(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonRefreshFailed, authErr.Reason)
	assert.Equal(t, int64(1), backend.stateCalls.Load(), "failed refresh must not retry the request")
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	conn := testConnection(srv.URL)
	conn.RefreshToken = ""
	client := NewClient(conn)

	_, err := client.States(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonNoRefreshToken, authErr.Reason)
}

func TestSingleFlightRefresh(t *testing.T) {
	backend := &refreshServer{validToken: "new"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(testConnection(srv.URL), WithRateLimit(1000))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.States(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int64(1), backend.refreshCalls.Load(), "concurrent callers must share one refresh")
	assert.Equal(t, "new", client.Connection().AccessToken)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	backend := &refreshServer{validToken: "new", rotateRefresh: "r2"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	_, err := client.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r2", client.Connection().RefreshToken)
}

func TestRefreshPersistFailureKeepsToken(t *testing.T) {
	backend := &refreshServer{validToken: "new"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &mockStore{err: errors.New("disk full")}
	client := NewClient(testConnection(srv.URL), WithStore(store))

	_, err := client.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", client.Connection().AccessToken, "in-memory token survives a failed durable write")
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	_, err := client.States(context.Background())
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestHTTPErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	_, err := client.Status(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Body)
}

func TestCallService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/services/light/turn_on", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "light.kitchen", body["entity_id"])

		w.Write([]byte(`[{"entity_id":"light.kitchen","state":"on","attributes":{"brightness":255}}]`))
	}))
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	changed, err := client.CallService(context.Background(), "light", "turn_on", map[string]any{
		"entity_id": "light.kitchen",
	})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "on", changed[0].State)
	assert.True(t, changed[0].Attributes["brightness"].Equal(models.NumberValue(255)))
}

func TestGetState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states/sensor.temp", r.URL.Path)
		w.Write([]byte(`{"entity_id":"sensor.temp","state":"21.5","attributes":{"unit_of_measurement":"°C"},"last_changed":"2026-08-30T10:00:00+00:00"}`))
	}))
	defer srv.Close()

	client := NewClient(testConnection(srv.URL))

	state, err := client.State(context.Background(), "sensor.temp")
	require.NoError(t, err)
	assert.Equal(t, "21.5", state.State)
	assert.Equal(t, "2026-08-30T10:00:00+00:00", state.LastChanged)
	assert.True(t, state.Attributes["unit_of_measurement"].Equal(models.StringValue("°C")))
}

func TestTransportError(t *testing.T) {
	conn := testConnection("http://127.0.0.1:1")
	client := NewClient(conn, WithTimeout(500*time.Millisecond))

	_, err := client.Status(context.Background())
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
