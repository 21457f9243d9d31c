package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gogitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/github"
	"github.com/nickromney-org/release-propagator/internal/propagator"
	"github.com/nickromney-org/release-propagator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cr3t"

type recordingRunner struct {
	mu     sync.Mutex
	events []types.ReleaseEvent
	ran    chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{ran: make(chan struct{}, 16)}
}

func (r *recordingRunner) Run(ctx context.Context, ev types.ReleaseEvent) (*propagator.Result, error) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ran <- struct{}{}
	return &propagator.Result{Requested: ev.Version, Version: ev.Version, LatestTag: ev.Version}, nil
}

func (r *recordingRunner) recorded() []types.ReleaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ReleaseEvent(nil), r.events...)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func post(t *testing.T, url, eventType string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func newTestServer(t *testing.T, runner Runner, queueSize int) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{Path: "/webhook", MetricsPath: "/metrics", Secret: testSecret, QueueSize: queueSize}, runner, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHandleWebhook(t *testing.T) {
	release := []byte(`{"action":"release","client_payload":{"version":"2.3.0"},"repository":{"full_name":"acme/lib"}}`)
	deploy := []byte(`{"action":"deploy","client_payload":{"version":"2.3.0"}}`)
	badVersion := []byte(`{"action":"release","client_payload":{"version":"v2.3.0"}}`)
	ping := []byte(`{"zen":"Keep it logically awesome.","hook_id":1}`)
	push := []byte(`{"ref":"refs/heads/main"}`)

	tests := []struct {
		name       string
		eventType  string
		body       []byte
		signature  string
		wantStatus int
		wantQueued bool
	}{
		{name: "release dispatch", eventType: "repository_dispatch", body: release, signature: sign(release), wantStatus: http.StatusAccepted, wantQueued: true},
		{name: "ping", eventType: "ping", body: ping, signature: sign(ping), wantStatus: http.StatusOK},
		{name: "other event", eventType: "push", body: push, signature: sign(push), wantStatus: http.StatusAccepted},
		{name: "other action", eventType: "repository_dispatch", body: deploy, signature: sign(deploy), wantStatus: http.StatusAccepted},
		{name: "bad signature", eventType: "repository_dispatch", body: release, signature: "sha256=" + hex.EncodeToString(make([]byte, 32)), wantStatus: http.StatusBadRequest},
		{name: "missing signature", eventType: "repository_dispatch", body: release, wantStatus: http.StatusBadRequest},
		{name: "invalid version", eventType: "repository_dispatch", body: badVersion, signature: sign(badVersion), wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ts := newTestServer(t, newRecordingRunner(), 4)

			resp := post(t, ts.URL+"/webhook", tt.eventType, tt.body, tt.signature)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "delivery-1", resp.Header.Get("X-Request-Id"))

			if tt.wantQueued {
				require.Len(t, s.queue, 1)
				j := <-s.queue
				assert.Equal(t, "2.3.0", j.event.Version)
				assert.Equal(t, "delivery-1", j.delivery)
			} else {
				assert.Empty(t, s.queue)
			}
		})
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, newRecordingRunner(), 1)

	resp, err := http.Get(ts.URL + "/webhook")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleWebhook_QueueFull(t *testing.T) {
	_, ts := newTestServer(t, newRecordingRunner(), 1)
	body := []byte(`{"action":"release","client_payload":{"version":"1.0.0"}}`)

	first := post(t, ts.URL+"/webhook", "repository_dispatch", body, sign(body))
	assert.Equal(t, http.StatusAccepted, first.StatusCode)

	second := post(t, ts.URL+"/webhook", "repository_dispatch", body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
}

func TestWorker_RunsSequentially(t *testing.T) {
	runner := newRecordingRunner()
	s, ts := newTestServer(t, runner, 4)
	s.Start(context.Background())

	for _, v := range []string{"1.0.0", "1.0.1"} {
		body := []byte(`{"action":"release","client_payload":{"version":"` + v + `"}}`)
		resp := post(t, ts.URL+"/webhook", "repository_dispatch", body, sign(body))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-runner.ran:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not run queued event")
		}
	}
	s.Stop()

	got := runner.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "1.0.0", got[0].Version)
	assert.Equal(t, "1.0.1", got[1].Version)

	body := []byte(`{"action":"release","client_payload":{"version":"1.0.2"}}`)
	resp := post(t, ts.URL+"/webhook", "repository_dispatch", body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "stopped server refuses events")
}

func TestMetricsEndpoint(t *testing.T) {
	runner := newRecordingRunner()
	s, ts := newTestServer(t, runner, 4)
	s.Start(context.Background())
	defer s.Stop()

	body := []byte(`{"action":"release","client_payload":{"version":"3.1.4"}}`)
	require.Equal(t, http.StatusAccepted, post(t, ts.URL+"/webhook", "repository_dispatch", body, sign(body)).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/webhook", "repository_dispatch", body, "").StatusCode)

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not run queued event")
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return bytes.Contains(data, []byte(`propagator_webhooks_total{result="queued"} 1`)) &&
			bytes.Contains(data, []byte(`propagator_webhooks_total{result="invalid_signature"} 1`)) &&
			bytes.Contains(data, []byte(`propagator_runs_total{outcome="propagated"} 1`))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, newRecordingRunner(), 1)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// seedOrigin creates a bare repository whose master holds a pyproject.toml
// at version 0.1.0, tagged v0.1.0.
func seedOrigin(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	barePath := filepath.Join(tmp, "origin.git")
	_, err := gogit.PlainInit(barePath, true)
	require.NoError(t, err)

	seedPath := filepath.Join(tmp, "seed")
	seed, err := gogit.PlainInit(seedPath, false)
	require.NoError(t, err)
	_, err = seed.CreateRemote(&gogitcfg.RemoteConfig{Name: "origin", URLs: []string{barePath}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(seedPath, "pyproject.toml"), []byte("version = \"0.1.0\"\n"), 0o644))
	wt, err := seed.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("pyproject.toml")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{Author: &object.Signature{
		Name: "tester", Email: "t@example.com", When: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	_, err = seed.CreateTag("v0.1.0", hash, nil)
	require.NoError(t, err)
	require.NoError(t, seed.Push(&gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gogitcfg.RefSpec{"refs/heads/*:refs/heads/*", "refs/tags/*:refs/tags/*"},
	}))
	return barePath
}

func TestCloneRunner(t *testing.T) {
	barePath := seedOrigin(t)
	tempParent := t.TempDir()
	mock := &github.MockClient{}
	runner := &CloneRunner{
		CloneURL:   barePath,
		Dispatcher: mock,
		Config:     propagator.Config{Downstream: "acme/docs"},
		TempDir:    tempParent,
	}

	result, err := runner.Run(context.Background(), types.ReleaseEvent{Version: "0.2.0"})
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", result.LatestTag)
	assert.Equal(t, []github.MockCall{{Owner: "acme", Repo: "docs", Version: "0.2.0"}}, mock.Calls)

	bare, err := gogit.PlainOpen(barePath)
	require.NoError(t, err)
	_, err = bare.Reference(plumbing.NewTagReferenceName("v0.2.0"), true)
	assert.NoError(t, err, "tag pushed to origin")

	entries, err := os.ReadDir(tempParent)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace removed")
}

func TestCloneRunner_CloneFailure(t *testing.T) {
	runner := &CloneRunner{
		CloneURL:   filepath.Join(t.TempDir(), "missing.git"),
		Dispatcher: &github.MockClient{},
		Config:     propagator.Config{Downstream: "acme/docs"},
	}

	result, err := runner.Run(context.Background(), types.ReleaseEvent{Version: "0.2.0"})
	require.Error(t, err)
	assert.Equal(t, failure.StepClone, result.FailedStep)
	assert.Equal(t, propagator.StatusFailed, result.Status())
}
