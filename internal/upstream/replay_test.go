package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/dskow/order-relay/internal/config"
)

// newRecorder opens a cassette at path in the given mode. The access token
// is stripped before the cassette is written.
func newRecorder(t *testing.T, path string, mode recorder.Mode) *recorder.Recorder {
	t.Helper()

	r, err := recorder.NewAsMode(path, mode, nil)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})
	r.AddFilter(func(i *cassette.Interaction) error {
		i.Request.Headers.Del("X-Shopify-Access-Token")
		return nil
	})
	return r
}

// TestLookup_ReplayIsByteIdentical records one lookup against a live stub,
// then replays it with the stub gone. Both lookups must yield the same bytes.
func TestLookup_ReplayIsByteIdentical(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"order":{"id":450789469,"name":"#1001","line_items":[{"sku":"IPOD2008PINK","quantity":1}]}}`)
	}))
	baseURL := srv.URL

	cassettePath := filepath.Join(t.TempDir(), "order_by_id")
	cfg := testConfig(baseURL, config.StrategyByID)

	rec := newRecorder(t, cassettePath, recorder.ModeRecording)
	live := New(cfg, quietLogger(), WithHTTPClient(&http.Client{Transport: rec}))
	first, err := live.Lookup(context.Background(), "450789469")
	if err != nil {
		t.Fatalf("recorded lookup failed: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("failed to save cassette: %v", err)
	}
	srv.Close()

	saved, err := os.ReadFile(cassettePath + ".yaml")
	if err != nil {
		t.Fatalf("failed to read cassette: %v", err)
	}
	if strings.Contains(string(saved), testToken) {
		t.Error("cassette must not contain the access token")
	}

	replay := newRecorder(t, cassettePath, recorder.ModeReplaying)
	defer replay.Stop() //nolint:errcheck
	replayed := New(cfg, quietLogger(), WithHTTPClient(&http.Client{Transport: replay}))

	second, err := replayed.Lookup(context.Background(), "450789469")
	if err != nil {
		t.Fatalf("replayed lookup failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("replayed body differs:\n first: %s\nsecond: %s", first, second)
	}
	if hits.Load() != 1 {
		t.Errorf("expected the live stub to be hit once, got %d", hits.Load())
	}
}
