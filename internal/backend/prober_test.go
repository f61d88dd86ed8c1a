package backend

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegw/edgegw/internal/config"
)

func probeConfig() config.Probe {
	return config.Probe{
		Interval:           config.Duration(20 * time.Millisecond),
		Timeout:            config.Duration(200 * time.Millisecond),
		Path:               "/healthz",
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
	}
}

func poolFor(t *testing.T, server *httptest.Server) (*Pool, *Host) {
	t.Helper()
	addr := strings.TrimPrefix(server.URL, "http://")
	pool, err := NewPool("/api", []config.Target{{Address: addr}})
	require.NoError(t, err)
	return pool, pool.Hosts()[0]
}

func waitForStatus(t *testing.T, host *Host, want Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if host.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("host did not reach status %s, still %s", want, host.Status())
}

func TestProber_MarksHealthyAfterThreshold(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)
	prober := NewProber(pool, probeConfig())
	prober.Start()
	defer prober.Stop()

	waitForStatus(t, host, StatusHealthy)
}

func TestProber_MarksUnhealthyAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)
	prober := NewProber(pool, probeConfig())
	prober.Start()
	defer prober.Stop()

	waitForStatus(t, host, StatusHealthy)

	failing.Store(true)
	waitForStatus(t, host, StatusUnhealthy)
}

func TestProber_RecoversAfterConsecutiveSuccesses(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	failing.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)
	prober := NewProber(pool, probeConfig())
	prober.Start()
	defer prober.Stop()

	// Probing continues while the host is out of rotation, so recovery
	// is detected without external intervention.
	waitForStatus(t, host, StatusUnhealthy)

	failing.Store(false)
	waitForStatus(t, host, StatusHealthy)
}

func TestProber_AlternatingOutcomesDoNotFlip(t *testing.T) {
	t.Parallel()

	var counter atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Alternate success and failure so neither consecutive
		// threshold is ever reached.
		if counter.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)
	cfg := probeConfig()
	cfg.HealthyThreshold = 2
	cfg.UnhealthyThreshold = 3

	prober := NewProber(pool, cfg)
	prober.Start()
	defer prober.Stop()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StatusUnknown, host.Status())
}

func TestProber_TimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)
	cfg := probeConfig()
	cfg.Timeout = config.Duration(20 * time.Millisecond)

	prober := NewProber(pool, cfg)
	prober.Start()
	defer prober.Stop()

	waitForStatus(t, host, StatusUnhealthy)
}

func TestProber_StatusChangeCallback(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, host := poolFor(t, server)

	type change struct {
		host    string
		healthy bool
	}
	changes := make(chan change, 8)

	prober := NewProber(pool, probeConfig(),
		WithStatusChangeCallback(func(route, hostAddress string, healthy bool) {
			changes <- change{host: hostAddress, healthy: healthy}
		}),
	)
	prober.Start()
	defer prober.Stop()

	select {
	case c := <-changes:
		assert.Equal(t, host.Address, c.host)
		assert.True(t, c.healthy)
	case <-time.After(3 * time.Second):
		t.Fatal("no status change observed")
	}
}

func TestProber_StartStop(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, _ := poolFor(t, server)
	prober := NewProber(pool, probeConfig())

	assert.False(t, prober.IsRunning())
	prober.Start()
	assert.True(t, prober.IsRunning())
	prober.Stop()
	assert.False(t, prober.IsRunning())
}
