package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dlnamedia/internal/library"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	for _, status := range []int{http.StatusOK, http.StatusPartialContent, http.StatusNotFound, http.StatusInternalServerError} {
		m.ObserveRequest(status)
	}

	if got := testutil.ToFloat64(m.requestsTotal); got != 4 {
		t.Fatalf("requests = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 2 {
		t.Fatalf("errors = %v, want 2", got)
	}
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveAction("ContentDirectory", "Browse", 0, 3*time.Millisecond)
	m.ObserveAction("ContentDirectory", "Browse", 701, time.Millisecond)
	if got := testutil.ToFloat64(m.soapActions.WithLabelValues("ContentDirectory", "Browse", "701")); got != 1 {
		t.Fatalf("701 faults = %v", got)
	}

	m.StreamStarted("mp3")
	m.StreamStarted("lpcm")
	if got := testutil.ToFloat64(m.activeStreams); got != 2 {
		t.Fatalf("active = %v", got)
	}
	m.StreamFinished("mp3", 4096, nil)
	m.StreamFinished("lpcm", 10, errors.New("truncated"))
	if got := testutil.ToFloat64(m.activeStreams); got != 0 {
		t.Fatalf("active after finish = %v", got)
	}
	if got := testutil.ToFloat64(m.streamBytes.WithLabelValues("mp3")); got != 4096 {
		t.Fatalf("mp3 bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.streamsFinished.WithLabelValues("lpcm", "error")); got != 1 {
		t.Fatalf("lpcm errors = %v", got)
	}

	m.NotifySent("ssdp:alive", 5)
	m.SearchAnswered("ssdp:all", 5)
	if got := testutil.ToFloat64(m.ssdpNotify.WithLabelValues("ssdp:alive")); got != 5 {
		t.Fatalf("alive = %v", got)
	}

	m.ObserveRebuild(library.Stats{Items: 3, Duration: 1500 * time.Millisecond})
	if got := testutil.ToFloat64(m.rebuildDuration); got != 1.5 {
		t.Fatalf("rebuild duration = %v", got)
	}
}

func TestHandler_RefreshesGauges(t *testing.T) {
	m := New()
	h := m.Handler(func() {
		m.SetCatalog(42, 7)
		m.SetArtCache(2, 2048)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"dlnamedia_catalog_objects 42",
		"dlnamedia_catalog_update_id 7",
		"dlnamedia_art_cache_bytes 2048",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
