package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []bool
}

func (r *recorder) record(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, b)
}

func (r *recorder) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.seen...)
}

func TestMonitor_PushNotifiesOnlyOnChange(t *testing.T) {
	src := NewManualSource(false)
	m := NewMonitor(src, &Config{PollInterval: time.Hour})
	m.Start()
	defer m.Stop()

	var rec recorder
	cancel := m.Subscribe(rec.record)
	defer cancel()

	src.Set(true)
	src.Set(true)
	src.Set(false)
	src.Set(false)
	src.Set(true)

	require.Equal(t, []bool{false, true, false, true}, rec.values())
	require.True(t, m.Current())
}

func TestMonitor_PollCatchesMissedPush(t *testing.T) {
	src := NewManualSource(false)
	src.DropEvents(true)

	m := NewMonitor(src, &Config{PollInterval: 5 * time.Millisecond})
	m.Start()
	defer m.Stop()

	var rec recorder
	m.Subscribe(rec.record)

	src.Set(true)
	require.Eventually(t, m.Current, time.Second, time.Millisecond)
	require.Equal(t, []bool{false, true}, rec.values())
}

func TestMonitor_StopEndsPollingAndPush(t *testing.T) {
	src := NewManualSource(true)
	m := NewMonitor(src, &Config{PollInterval: 5 * time.Millisecond})
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()

	src.Set(false)
	time.Sleep(30 * time.Millisecond)
	require.True(t, m.Current(), "stopped monitor must not observe changes")

	require.False(t, m.Refresh())
}

func TestMonitor_ProbeAnyResponseIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := NewMonitor(NewManualSource(false), &Config{ProbeURL: srv.URL})
	require.True(t, m.Probe(context.Background()))
	require.False(t, m.Current(), "probe is advisory and does not change state")
}

func TestMonitor_ProbeTransportFailureIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(NewManualSource(true), &Config{ProbeURL: url, ProbeTimeout: 200 * time.Millisecond})
	require.False(t, m.Probe(context.Background()))
}

func TestMonitor_ProbeFallsBackToOSFlag(t *testing.T) {
	m := NewMonitor(NewManualSource(true), &Config{})
	require.True(t, m.Probe(context.Background()))

	m = NewMonitor(NewManualSource(false), &Config{ProbeURL: "://bad url"})
	require.False(t, m.Probe(context.Background()))

	m = NewMonitor(NewManualSource(true), &Config{ProbeURL: "://bad url"})
	require.True(t, m.Probe(context.Background()))
}
