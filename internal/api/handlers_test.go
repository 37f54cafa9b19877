package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tapemaint/internal/events"
	"github.com/mattjoyce/tapemaint/internal/maintenance"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

type stubRunner struct {
	snap maintenance.Snapshot
}

func (s stubRunner) Snapshot() maintenance.Snapshot { return s.snap }

type stubQueues struct {
	counts []schedstore.QueueCount
	err    error
}

func (s stubQueues) QueueSummary(context.Context) ([]schedstore.QueueCount, error) {
	return s.counts, s.err
}

func newTestServer(t *testing.T, cfg Config, runner RunnerView, queues QueueSummarizer, hub *events.Hub) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	reg := prometheus.NewRegistry()
	up := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tapemaint_test_up", Help: "test gauge"})
	reg.MustRegister(up)
	up.Set(1)

	s := New(cfg, runner, queues, hub, logger, WithGatherer(reg))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	runner := stubRunner{snap: maintenance.Snapshot{Cycles: 4, CurrentRoutine: "repack_expand"}}
	ts := newTestServer(t, Config{APIKey: "secret"}, runner, nil, nil)

	resp := get(t, ts.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, uint64(4), body.Cycles)
	assert.Equal(t, "repack_expand", body.CurrentRoutine)
}

func TestHealthzWhileStopping(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Config{}, stubRunner{snap: maintenance.Snapshot{Stopping: true}}, nil, nil)

	resp := get(t, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Config{APIKey: "secret"}, stubRunner{}, nil, nil)

	resp := get(t, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tapemaint_test_up 1")
}

func TestRoutinesRequiresKey(t *testing.T) {
	t.Parallel()
	runner := stubRunner{snap: maintenance.Snapshot{
		Cycles: 2,
		Routines: []maintenance.RoutineStatus{
			{Name: "garbage_collector", Runs: 2},
			{Name: "repack_report", Runs: 2, Failures: 1, LastError: "database is locked"},
		},
	}}
	ts := newTestServer(t, Config{APIKey: "secret"}, runner, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, get(t, ts.URL+"/v1/routines", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, ts.URL+"/v1/routines", "wrong").StatusCode)

	resp := get(t, ts.URL+"/v1/routines", "secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body RoutinesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Routines, 2)
	assert.Equal(t, "repack_report", body.Routines[1].Name)
	assert.Equal(t, "database is locked", body.Routines[1].LastError)
}

func TestRoutinesOpenWithoutKey(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Config{}, stubRunner{}, nil, nil)
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/v1/routines", "").StatusCode)
}

func TestQueues(t *testing.T) {
	t.Parallel()
	queues := stubQueues{counts: []schedstore.QueueCount{
		{Category: schedstore.CategoryArchive, Queue: schedstore.QueuePending, Count: 3},
		{Category: schedstore.CategoryRepackRetrieve, Queue: schedstore.QueueFailed, Count: 2},
	}}
	ts := newTestServer(t, Config{}, stubRunner{}, queues, nil)

	resp := get(t, ts.URL+"/v1/queues", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body QueuesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 5, body.Total)
	assert.Equal(t, "ARCHIVE_", body.Queues[0].Category)

	broken := newTestServer(t, Config{}, stubRunner{}, stubQueues{err: errors.New("locked")}, nil)
	assert.Equal(t, http.StatusInternalServerError, get(t, broken.URL+"/v1/queues", "").StatusCode)
}

func TestEventsReplayAndStream(t *testing.T) {
	t.Parallel()
	hub := events.NewHub(16)
	hub.Publish(events.CycleStarted, map[string]int{"cycle": 1})
	hub.Publish(events.CycleCompleted, map[string]int{"cycle": 1})
	ts := newTestServer(t, Config{}, stubRunner{}, nil, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	readEvent := func() (id, typ string) {
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case line == "" && id != "":
				return id, typ
			}
		}
		return id, typ
	}

	id, typ := readEvent()
	assert.Equal(t, "2", id)
	assert.Equal(t, events.CycleCompleted, typ)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(events.RoutineFailed, map[string]string{"routine": "repack_report"})
	id, typ = readEvent()
	assert.Equal(t, "3", id)
	assert.Equal(t, events.RoutineFailed, typ)
}

func TestEventsTypeFilterAndSinceParam(t *testing.T) {
	t.Parallel()
	hub := events.NewHub(16)
	hub.Publish(events.CycleStarted, nil)
	hub.Publish(events.RoutineCompleted, map[string]string{"routine": "garbage_collector"})
	hub.Publish(events.RoutineFailed, map[string]string{"routine": "repack_report"})
	hub.Publish(events.CycleCompleted, nil)
	ts := newTestServer(t, Config{APIKey: "secret"}, stubRunner{}, nil, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?types=routine&since=2&api_key=secret", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	var firstID, firstType string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "id: "); ok {
			firstID = v
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			firstType = v
		}
		if line == "" && firstID != "" {
			break
		}
	}
	assert.Equal(t, "3", firstID)
	assert.Equal(t, events.RoutineFailed, firstType)
}

func TestEventFilter(t *testing.T) {
	t.Parallel()
	f := parseEventFilter(" routine , daemon.stopping,")
	assert.True(t, f.keep(events.RoutineFailed))
	assert.True(t, f.keep(events.RoutineCompleted))
	assert.True(t, f.keep(events.DaemonStopping))
	assert.False(t, f.keep(events.CycleStarted))
	assert.False(t, f.keep("routines.other"))
	assert.True(t, parseEventFilter("").keep(events.CycleStarted))
}
