package updatecheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/models"
	"github.com/Volteec/VolteecBackend/internal/repository"
)

type fakeNotifier struct {
	available atomic.Int32
	required  atomic.Int32
}

func (f *fakeNotifier) SendServerUpdateAvailable(context.Context, repository.DevicesRepo) {
	f.available.Add(1)
}

func (f *fakeNotifier) SendServerUpdateRequired(context.Context, repository.DevicesRepo) {
	f.required.Add(1)
}

type noopDevices struct{}

func (noopDevices) Register(context.Context, repository.DeviceRegistration) (bool, error) {
	return false, nil
}

func (noopDevices) Unregister(context.Context, string, string, models.Environment, *string, *string) error {
	return nil
}

func (noopDevices) CountDevices(context.Context) (int, error) { return 1, nil }

func metaServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meta", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(t *testing.T, baseURL string, n Notifier) *Checker {
	t.Helper()
	return NewChecker(baseURL, "1.1", n, noopDevices{}, zap.NewNop())
}

func TestChecker_Supported(t *testing.T) {
	srv := metaServer(t, http.StatusOK, `{"protocolVersions":{"1.0":"deprecated","1.1":"supported"}}`)
	n := &fakeNotifier{}
	c := newTestChecker(t, srv.URL, n)

	c.checkOnce(context.Background())

	assert.Equal(t, CompatSupported, c.State())
	assert.Zero(t, n.available.Load())
	assert.Zero(t, n.required.Load())
}

func TestChecker_DeprecatedNotifiesOncePerTransition(t *testing.T) {
	srv := metaServer(t, http.StatusOK, `{"protocolVersions":{"1.1":"deprecated","1.2":"supported"}}`)
	n := &fakeNotifier{}
	c := newTestChecker(t, srv.URL, n)

	c.checkOnce(context.Background())
	assert.Equal(t, CompatDeprecated, c.State())
	assert.Equal(t, int32(1), n.available.Load())

	// Same answer next day: no repeat notification.
	c.checkOnce(context.Background())
	assert.Equal(t, int32(1), n.available.Load())
}

func TestChecker_VersionAbsentMeansUnsupported(t *testing.T) {
	srv := metaServer(t, http.StatusOK, `{"protocolVersions":{"2.0":"supported"}}`)
	n := &fakeNotifier{}
	c := newTestChecker(t, srv.URL, n)

	c.checkOnce(context.Background())

	assert.Equal(t, CompatUnsupported, c.State())
	assert.Equal(t, int32(1), n.required.Load())
	assert.Zero(t, n.available.Load())
}

func TestChecker_ServerErrorMeansUnreachable(t *testing.T) {
	srv := metaServer(t, http.StatusInternalServerError, "")
	c := newTestChecker(t, srv.URL, nil)

	c.checkOnce(context.Background())
	assert.Equal(t, CompatUnreachable, c.State())
}

func TestChecker_ConnectionFailureMeansUnreachable(t *testing.T) {
	c := newTestChecker(t, "http://127.0.0.1:1", nil)
	c.checkOnce(context.Background())
	assert.Equal(t, CompatUnreachable, c.State())
}

func TestChecker_BadPayloadMeansInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      "<html>",
		"empty mapping": `{"protocolVersions":{}}`,
		"wrong shape":   `{"versions":["1.1"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := metaServer(t, http.StatusOK, body)
			c := newTestChecker(t, srv.URL, nil)
			c.checkOnce(context.Background())
			assert.Equal(t, CompatInvalid, c.State())
		})
	}
}

func TestChecker_NilNotifierIsSafe(t *testing.T) {
	srv := metaServer(t, http.StatusOK, `{"protocolVersions":{"2.0":"supported"}}`)
	c := newTestChecker(t, srv.URL, nil)
	c.checkOnce(context.Background())
	assert.Equal(t, CompatUnsupported, c.State())
}
