package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/config"
	"github.com/Volteec/VolteecBackend/internal/models"
	"github.com/Volteec/VolteecBackend/internal/repository"
)

const (
	testTenantID = "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d"
	testServerID = "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e"
	testSecret   = "super-secret"
)

type recordedRequest struct {
	path      string
	timestamp string
	nonce     string
	signature string
	requestID string
	body      []byte
}

// relayStub captures every signed request and answers from a status
// script (one code per request; the last code repeats).
type relayStub struct {
	mu       sync.Mutex
	requests []recordedRequest
	statuses []int
	srv      *httptest.Server
}

func newRelayStub(t *testing.T, statuses ...int) *relayStub {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	s := &relayStub{statuses: statuses}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			path:      r.URL.Path,
			timestamp: r.Header.Get("X-Volteec-Timestamp"),
			nonce:     r.Header.Get("X-Volteec-Nonce"),
			signature: r.Header.Get("X-Volteec-Signature"),
			requestID: r.Header.Get("X-Request-ID"),
			body:      body,
		})
		idx := len(s.requests) - 1
		if idx >= len(s.statuses) {
			idx = len(s.statuses) - 1
		}
		code := s.statuses[idx]
		s.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func newTestRelayClient(s *relayStub) *Client {
	return NewClient(config.RelayConfig{
		BaseURL:     s.srv.URL,
		TenantID:    testTenantID,
		Secret:      testSecret,
		ServerID:    testServerID,
		Environment: "sandbox",
	}, zap.NewNop())
}

type fakeDevicesRepo struct {
	count    int
	countErr error
}

func (f *fakeDevicesRepo) Register(context.Context, repository.DeviceRegistration) (bool, error) {
	return false, nil
}

func (f *fakeDevicesRepo) Unregister(context.Context, string, string, models.Environment, *string, *string) error {
	return nil
}

func (f *fakeDevicesRepo) CountDevices(context.Context) (int, error) {
	return f.count, f.countErr
}

func TestSendEvent_SignsExactBody(t *testing.T) {
	stub := newRelayStub(t)
	c := newTestRelayClient(stub)

	level := 42
	c.SendEvent(context.Background(), Event{
		Type:         EventBatteryLow,
		Status:       "on_battery",
		UPSID:        "ups1",
		Environment:  "sandbox",
		Timestamp:    1700000000,
		BatteryLevel: &level,
	})

	reqs := stub.recorded()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "/event", req.path)
	assert.NotEmpty(t, req.requestID)
	assert.NotEmpty(t, req.timestamp)
	assert.NotEmpty(t, req.nonce)
	assert.True(t, Verify(testSecret, req.timestamp, req.nonce, req.body, req.signature),
		"signature must verify over the raw request body")

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, testTenantID, body["tenantId"])
	assert.Equal(t, "battery_low", body["eventType"])
	assert.Equal(t, "sandbox", body["environment"])
	assert.Equal(t, "ups1", body["upsId"])
	assert.Equal(t, "on_battery", body["status"])
	assert.Equal(t, testServerID, body["serverId"])
	assert.Equal(t, float64(42), body["batteryLevel"])
	assert.Equal(t, float64(1700000000), body["timestamp"])
	assert.NotEmpty(t, body["eventId"])
	assert.NotContains(t, body, "installationId")
}

func TestSendEvent_RetriesOnceWithFreshNonce(t *testing.T) {
	stub := newRelayStub(t, http.StatusInternalServerError, http.StatusOK)
	c := newTestRelayClient(stub)

	c.SendEvent(context.Background(), Event{
		Type:        EventUPSStatusChange,
		Status:      "online",
		UPSID:       "ups1",
		Environment: "sandbox",
		Timestamp:   1700000000,
	})

	reqs := stub.recorded()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].nonce, reqs[1].nonce)
	assert.NotEqual(t, reqs[0].requestID, reqs[1].requestID)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].body, &first))
	require.NoError(t, json.Unmarshal(reqs[1].body, &second))
	assert.NotEqual(t, first["eventId"], second["eventId"])
}

func TestSendEvent_GivesUpAfterTwoAttempts(t *testing.T) {
	stub := newRelayStub(t, http.StatusBadGateway)
	c := newTestRelayClient(stub)

	c.SendEvent(context.Background(), Event{
		Type:        EventUPSStatusChange,
		Environment: "sandbox",
		Timestamp:   1,
	})

	assert.Len(t, stub.recorded(), 2)
}

func TestSendHeartbeat_NoRetry(t *testing.T) {
	stub := newRelayStub(t, http.StatusInternalServerError)
	c := newTestRelayClient(stub)

	c.SendHeartbeat(context.Background(), 1700000000)

	reqs := stub.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/heartbeat", reqs[0].path)

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, testTenantID, body["tenantId"])
	assert.Equal(t, testServerID, body["serverId"])
	assert.Equal(t, float64(1700000000), body["timestamp"])
}

func TestCreatePairCode_Success(t *testing.T) {
	stub := newRelayStub(t)
	c := newTestRelayClient(stub)

	require.NoError(t, c.CreatePairCode(context.Background(), "ABCD2345", 1700000000))

	reqs := stub.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/pair", reqs[0].path)

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, "ABCD2345", body["pairCode"])
	assert.True(t, Verify(testSecret, reqs[0].timestamp, reqs[0].nonce, reqs[0].body, reqs[0].signature))
}

func TestCreatePairCode_RejectedPropagates(t *testing.T) {
	stub := newRelayStub(t, http.StatusForbidden)
	c := newTestRelayClient(stub)

	err := c.CreatePairCode(context.Background(), "ABCD2345", 1700000000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestBroadcast_SkipsWhenNoDevices(t *testing.T) {
	stub := newRelayStub(t)
	c := newTestRelayClient(stub)

	c.SendServerUpdateRequired(context.Background(), &fakeDevicesRepo{count: 0})
	assert.Empty(t, stub.recorded())
}

func TestBroadcast_SendsBothEnvironments(t *testing.T) {
	stub := newRelayStub(t)
	c := newTestRelayClient(stub)

	c.SendServerUpdateAvailable(context.Background(), &fakeDevicesRepo{count: 3})

	reqs := stub.recorded()
	require.Len(t, reqs, 2)
	envs := map[string]bool{}
	for _, req := range reqs {
		var body map[string]any
		require.NoError(t, json.Unmarshal(req.body, &body))
		assert.Equal(t, "server_update_available", body["eventType"])
		assert.NotContains(t, body, "upsId")
		envs[body["environment"].(string)] = true
	}
	assert.True(t, envs["sandbox"])
	assert.True(t, envs["production"])
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("secret", "1700000000", "nonce-1", body)
	assert.True(t, Verify("secret", "1700000000", "nonce-1", body, sig))
	assert.False(t, Verify("secret", "1700000001", "nonce-1", body, sig))
	assert.False(t, Verify("other", "1700000000", "nonce-1", body, sig))
	assert.False(t, Verify("secret", "1700000000", "nonce-2", body, sig))
	assert.False(t, Verify("secret", "1700000000", "nonce-1", []byte(`{"a":2}`), sig))
}

func TestGeneratePairCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GeneratePairCode()
		require.NoError(t, err)
		assert.Len(t, code, 8)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(pairAlphabet, ch), "unexpected character %q", ch)
		}
		seen[code] = true
	}
	// 50 draws from a 32^8 space never collide in practice.
	assert.Greater(t, len(seen), 45)
}
