package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leader-elector/store"
	"leader-elector/utils"
)

const testConfig = `{
	"identity": "node-1",
	"lease-duration": "1s",
	"renew-deadline": "400ms",
	"retry-period": "50ms",
	"release-on-cancel": true,
	"lock": {"name": "scheduler"}
}`

func newTestServer(t *testing.T, doc string) (*server, *httptest.Server) {
	conf, err := utils.ParseConfig([]byte(doc))
	require.NoError(t, err)

	s, err := newServer(conf, store.NewInMemoryStore(), prometheus.NewRegistry())
	require.NoError(t, err)

	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func waitUntil(t *testing.T, fn func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEndpoints(t *testing.T) {
	s, ts := newTestServer(t, testConfig)

	code, body := get(t, ts.URL+"/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong\n", body)

	code, body = get(t, ts.URL+"/leader")
	require.Equal(t, http.StatusOK, code)
	var view leaderResponse
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.Equal(t, leaderResponse{Identity: "node-1", State: "Observing"}, view)

	// no elasticsearch configured
	code, _ = get(t, ts.URL+"/events")
	assert.Equal(t, http.StatusNotFound, code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.elector.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	waitUntil(t, s.elector.IsLeader)

	code, body = get(t, ts.URL+"/leader")
	require.Equal(t, http.StatusOK, code)
	var record struct {
		Identity string `json:"identity"`
		State    string `json:"state"`
		Leader   string `json:"leader"`
		Record   struct {
			HolderIdentity       string `json:"holderIdentity"`
			LeaseDurationSeconds int    `json:"leaseDurationSeconds"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &record))
	assert.Equal(t, "Leading", record.State)
	assert.Equal(t, "node-1", record.Leader)
	assert.Equal(t, "node-1", record.Record.HolderIdentity)
	assert.Equal(t, 1, record.Record.LeaseDurationSeconds)

	code, body = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `leader_election_master_status{name="scheduler"} 1`)
}

func TestPostIsNotRouted(t *testing.T) {
	_, ts := newTestServer(t, testConfig)

	resp, err := http.Post(ts.URL+"/ping", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInvalidLockConfig(t *testing.T) {
	conf, err := utils.ParseConfig([]byte(`{"identity": "a", "lock": {"type": "zookeeper"}}`))
	require.NoError(t, err)
	_, err = newServer(conf, store.NewInMemoryStore(), prometheus.NewRegistry())
	assert.Error(t, err)

	conf, err = utils.ParseConfig([]byte(`{"identity": "a", "lease-duration": "5s", "renew-deadline": "10s"}`))
	require.NoError(t, err)
	_, err = newServer(conf, store.NewInMemoryStore(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestEventsFromElasticsearch(t *testing.T) {
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/_search"):
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"from": 5`) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_source":{
				"object":"LeaseLock: default - scheduler (node-1)",
				"reason":"LeaderElection",
				"message":"node-1 became leader",
				"@timestamp":"2024-06-01T12:00:00Z"}}]}}`))
		case strings.Contains(r.URL.Path, "/_doc"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
		default:
			_, _ = w.Write([]byte(`{"cluster_name":"test","version":{"number":"8.2.0"}}`))
		}
	}))
	defer es.Close()

	_, ts := newTestServer(t, `{"identity": "node-1", "elasticsearch-config": {"endpoints": ["`+es.URL+`"]}}`)

	code, body := get(t, ts.URL+"/events?pagination-from=5")
	require.Equal(t, http.StatusOK, code, body)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, float64(1), resp.Count)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "node-1 became leader", resp.Items[0].Message)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), resp.Items[0].Timestamp)

	code, _ = get(t, ts.URL+"/events?pagination-size=many")
	assert.Equal(t, http.StatusBadRequest, code)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestShutdownShipsFinalEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		messages []string
	)
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/_doc") {
			var doc struct {
				Message string `json:"message"`
			}
			if err := json.NewDecoder(r.Body).Decode(&doc); err == nil {
				mu.Lock()
				messages = append(messages, doc.Message)
				mu.Unlock()
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
			return
		}
		_, _ = w.Write([]byte(`{"cluster_name":"test","version":{"number":"8.2.0"}}`))
	}))
	defer es.Close()

	conf, err := utils.ParseConfig([]byte(`{
		"identity": "node-1",
		"lease-duration": "1s",
		"renew-deadline": "400ms",
		"retry-period": "50ms",
		"release-on-cancel": true,
		"host": "127.0.0.1",
		"port": ` + strconv.Itoa(freePort(t)) + `,
		"elasticsearch-config": {"endpoints": ["` + es.URL + `"]}
	}`))
	require.NoError(t, err)
	s, err := newServer(conf, store.NewInMemoryStore(), prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := s.RunAsync(ctx)
	waitUntil(t, s.elector.IsLeader)
	cancel()

	select {
	case <-s.Done():
	case err := <-errChan:
		t.Fatalf("server failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"node-1 became leader", "node-1 stopped leading"}, messages)
}
