package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlnamedia/internal/api"
	"dlnamedia/internal/catalog"
	"dlnamedia/internal/config"
	"dlnamedia/internal/connmgr"
	"dlnamedia/internal/contentdir"
	"dlnamedia/internal/library"
	"dlnamedia/internal/media"
	"dlnamedia/internal/metrics"
	"dlnamedia/internal/streaming"
	"dlnamedia/internal/transcode"
	"dlnamedia/internal/upnp"
)

type testLibrary struct {
	cat *catalog.Catalog
}

func (l testLibrary) Catalog() *catalog.Catalog        { return l.cat }
func (l testLibrary) UpdateID() uint32                 { return 1 }
func (l testLibrary) IsScanning() bool                 { return false }
func (l testLibrary) LastStats() (library.Stats, bool) { return library.Stats{}, false }
func (l testLibrary) Rebuild(context.Context) error    { return nil }

type refusingTranscoder struct {
	t *testing.T
}

func (r refusingTranscoder) Start(context.Context, transcode.Request) (*transcode.Session, error) {
	r.t.Error("transcoder started")
	return nil, errors.New("not allowed")
}

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	b := catalog.NewBuilder("Music")
	if err := b.AddItem(catalog.RootID, "song", "song.ogg", time.Time{}, catalog.AudioItem{
		Source: catalog.SourceFile{
			Path:     "/m/song.ogg",
			Duration: time.Minute,
			Tracks:   []catalog.Track{{Index: 0, Codec: "vorbis", Channels: 2, SampleRate: 44100}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	cat, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	lib := testLibrary{cat: cat}

	sel, err := transcode.NewSelector("mp3", 0)
	if err != nil {
		t.Fatal(err)
	}
	device := upnp.DeviceInfo{UDN: "uuid:server-test", FriendlyName: "Test", ModelName: "dlnamedia"}
	upnpHandler, err := upnp.NewHandler(device, zerolog.Nop(),
		contentdir.New(lib, sel.Format, zerolog.Nop()),
		connmgr.New(sel.ProtocolInfos()),
	)
	if err != nil {
		t.Fatal(err)
	}
	art, err := media.NewArtService(nil, 4, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	upnpHandler.SetObserver(m)
	sessions := streaming.NewRegistry()
	stream := streaming.NewHandler(lib, sel, refusingTranscoder{t}, sessions, zerolog.Nop())
	stream.SetObserver(m)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 1
	srv := New(cfg, zerolog.Nop(), Handlers{
		UPnP:    upnpHandler,
		Stream:  stream,
		Art:     streaming.NewArtHandler(lib, art, zerolog.Nop()),
		API:     api.NewHandler(lib, sessions, device, zerolog.Nop()),
		Metrics: m,
		Gauges:  func() { m.SetCatalog(cat.Len(), lib.UpdateID()) },
	})
	return srv, m
}

func request(t *testing.T, h http.Handler, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Host = "192.168.1.2:8200"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		method string
		path   string
		status int
		want   string
	}{
		{http.MethodGet, "/description.xml", http.StatusOK, "urn:schemas-upnp-org:device:MediaServer:1"},
		{http.MethodGet, "/ContentDirectory/description.xml", http.StatusOK, "<name>Browse</name>"},
		{http.MethodGet, "/ConnectionManager/description.xml", http.StatusOK, "GetProtocolInfo"},
		{http.MethodGet, "/Nope/description.xml", http.StatusNotFound, ""},
		{http.MethodHead, "/stream/song/0", http.StatusOK, ""},
		{http.MethodGet, "/stream/missing/0", http.StatusNotFound, ""},
		{http.MethodGet, "/art/song", http.StatusNotFound, ""},
		{http.MethodGet, "/api/v1/health", http.StatusOK, `"status":"ok"`},
		{http.MethodOptions, "/api/v1/health", http.StatusOK, ""},
	}
	for _, tt := range tests {
		rec := request(t, h, tt.method, tt.path, nil, nil)
		if rec.Code != tt.status {
			t.Errorf("%s %s: status %d, want %d", tt.method, tt.path, rec.Code, tt.status)
			continue
		}
		if tt.want != "" && !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("%s %s: body missing %q", tt.method, tt.path, tt.want)
		}
	}

	rec := request(t, h, http.MethodGet, "/api/v1/health", nil, nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers missing on API")
	}
	rec = request(t, h, http.MethodGet, "/description.xml", nil, nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers leaked outside the API")
	}
}

func TestBrowseThroughRouterIsCounted(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body><u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<ObjectID>0</ObjectID><BrowseFlag>BrowseDirectChildren</BrowseFlag><Filter>*</Filter>
<StartingIndex>0</StartingIndex><RequestedCount>0</RequestedCount><SortCriteria></SortCriteria>
</u:Browse></s:Body></s:Envelope>`
	rec := request(t, h, http.MethodPost, "/ContentDirectory/control", strings.NewReader(body), map[string]string{
		"Content-Type": `text/xml; charset="utf-8"`,
		"SOAPACTION":   `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("browse status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "http://192.168.1.2:8200/stream/song/0") {
		t.Fatalf("stream url missing from %s", rec.Body.String())
	}

	scrape := request(t, h, http.MethodGet, "/metrics", nil, nil).Body.String()
	for _, want := range []string{
		`dlnamedia_soap_actions_total{action="Browse",code="0",service="ContentDirectory"} 1`,
		"dlnamedia_catalog_objects 2",
		"dlnamedia_http_requests_total 1",
	} {
		if !strings.Contains(scrape, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

type statusRecorder struct {
	statuses []int
}

func (s *statusRecorder) ObserveRequest(status int) {
	s.statuses = append(s.statuses, status)
}

func TestLoggingMiddlewareReportsStatus(t *testing.T) {
	rec := &statusRecorder{}
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(zerolog.Nop(), rec))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("fine")) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError}
	if len(rec.statuses) != len(want) {
		t.Fatalf("recorded %v, want %v", rec.statuses, want)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Fatalf("recorded %v, want %v", rec.statuses, want)
		}
	}

	// A nil recorder only logs.
	plain := chi.NewRouter()
	plain.Use(LoggingMiddleware(zerolog.Nop(), nil))
	plain.Get("/ok", func(w http.ResponseWriter, r *http.Request) {})
	resp := httptest.NewRecorder()
	plain.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
}
