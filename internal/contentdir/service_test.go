package contentdir

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/didl"
	"dlnamedia/internal/upnp"
)

type staticLibrary struct {
	cat      *catalog.Catalog
	updateID uint32
}

func (l *staticLibrary) Catalog() *catalog.Catalog { return l.cat }
func (l *staticLibrary) UpdateID() uint32          { return l.updateID }

func mp3Format(*catalog.AudioItem, catalog.Track) didl.Format {
	return didl.Format{MimeType: "audio/mpeg", DLNAProfile: "MP3"}
}

// musicCatalog is a root holding one "Music" folder with song.mp3.
func musicCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	b := catalog.NewBuilder("Library")
	now := time.Now()
	if err := b.AddContainer(catalog.RootID, "music", "Music", now, ""); err != nil {
		t.Fatal(err)
	}
	song := catalog.AudioItem{
		Source: catalog.SourceFile{
			Path:     "/media/Music/song.mp3",
			Format:   "mp3",
			Duration: 3 * time.Minute,
			Tracks:   []catalog.Track{{Index: 0, Codec: "mp3", Channels: 2, SampleRate: 44100}},
		},
		Tags: catalog.Tags{Artist: "Nina", Album: "Blue", Genre: "Jazz"},
	}
	if err := b.AddItem("music", "song", "song.mp3", now, song); err != nil {
		t.Fatal(err)
	}
	cat, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(&staticLibrary{cat: musicCatalog(t), updateID: 7}, mp3Format, zerolog.Nop())
}

func browseCall(id, flag string, start, count string) *upnp.Call {
	call := upnp.NewCall(ServiceType, "Browse", map[string]string{
		"ObjectID":       id,
		"BrowseFlag":     flag,
		"Filter":         "*",
		"StartingIndex":  start,
		"RequestedCount": count,
		"SortCriteria":   "",
	})
	call.BaseURL = "http://192.168.1.2:8200"
	return call
}

func searchCall(id, criteria string) *upnp.Call {
	call := upnp.NewCall(ServiceType, "Search", map[string]string{
		"ContainerID":    id,
		"SearchCriteria": criteria,
		"Filter":         "*",
		"StartingIndex":  "0",
		"RequestedCount": "0",
		"SortCriteria":   "",
	})
	call.BaseURL = "http://192.168.1.2:8200"
	return call
}

func argMap(args []upnp.Arg) map[string]string {
	m := make(map[string]string, len(args))
	for _, a := range args {
		m[a.Name] = a.Value
	}
	return m
}

type didlDoc struct {
	Containers []struct {
		ID    string `xml:"id,attr"`
		Title string `xml:"title"`
	} `xml:"container"`
	Items []struct {
		ID    string   `xml:"id,attr"`
		Title string   `xml:"title"`
		Res   []string `xml:"res"`
	} `xml:"item"`
}

func decodeDIDL(t *testing.T, s string) didlDoc {
	t.Helper()
	var d didlDoc
	if err := xml.Unmarshal([]byte(s), &d); err != nil {
		t.Fatalf("result is not well-formed DIDL: %v\n%s", err, s)
	}
	return d
}

func faultCode(t *testing.T, err error) int {
	t.Helper()
	var ue *upnp.Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *upnp.Error, got %v", err)
	}
	return ue.Code
}

func TestBrowse_MusicFolderScenario(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	args, err := s.Handle(ctx, browseCall("0", "BrowseDirectChildren", "0", "10"))
	if err != nil {
		t.Fatalf("browse root: %v", err)
	}
	out := argMap(args)
	if out["NumberReturned"] != "1" || out["TotalMatches"] != "1" || out["UpdateID"] != "7" {
		t.Fatalf("unexpected counts: %v", out)
	}
	root := decodeDIDL(t, out["Result"])
	if len(root.Containers) != 1 || root.Containers[0].Title != "Music" || len(root.Items) != 0 {
		t.Fatalf("expected one Music container, got %+v", root)
	}

	args, err = s.Handle(ctx, browseCall(root.Containers[0].ID, "BrowseDirectChildren", "0", "10"))
	if err != nil {
		t.Fatalf("browse music: %v", err)
	}
	music := decodeDIDL(t, argMap(args)["Result"])
	if len(music.Items) != 1 || music.Items[0].Title != "song.mp3" {
		t.Fatalf("expected song.mp3, got %+v", music)
	}
	if len(music.Items[0].Res) != 1 || music.Items[0].Res[0] != "http://192.168.1.2:8200/stream/song/0" {
		t.Fatalf("expected one resource URI, got %v", music.Items[0].Res)
	}
}

func TestBrowse_Metadata(t *testing.T) {
	s := newTestService(t)

	args, err := s.Handle(context.Background(), browseCall("music", "BrowseMetadata", "0", "0"))
	if err != nil {
		t.Fatal(err)
	}
	out := argMap(args)
	if out["NumberReturned"] != "1" || out["TotalMatches"] != "1" {
		t.Fatalf("unexpected counts: %v", out)
	}
	if !strings.Contains(out["Result"], `parentID="0"`) {
		t.Fatalf("metadata should carry the real parent: %s", out["Result"])
	}

	args, err = s.Handle(context.Background(), browseCall("0", "BrowseMetadata", "0", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(argMap(args)["Result"], `parentID="-1"`) {
		t.Fatal("root parent should be -1")
	}
}

func TestBrowse_Errors(t *testing.T) {
	s := newTestService(t)
	tests := []struct {
		name string
		call *upnp.Call
		code int
	}{
		{"unknown object", browseCall("nope", "BrowseDirectChildren", "0", "0"), upnp.ErrCodeNoSuchObject},
		{"unknown object metadata", browseCall("nope", "BrowseMetadata", "0", "0"), upnp.ErrCodeNoSuchObject},
		{"children of an item", browseCall("song", "BrowseDirectChildren", "0", "0"), upnp.ErrCodeNoSuchContainer},
		{"bad flag", browseCall("0", "BrowseEverything", "0", "0"), upnp.ErrCodeInvalidArgs},
		{"bad index", browseCall("0", "BrowseDirectChildren", "-1", "0"), upnp.ErrCodeInvalidArgs},
		{"missing object id", upnp.NewCall(ServiceType, "Browse", nil), upnp.ErrCodeInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Handle(context.Background(), tt.call)
			if got := faultCode(t, err); got != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, got)
			}
		})
	}
}

func TestBrowse_PastTheEnd(t *testing.T) {
	s := newTestService(t)
	args, err := s.Handle(context.Background(), browseCall("0", "BrowseDirectChildren", "5", "10"))
	if err != nil {
		t.Fatal(err)
	}
	out := argMap(args)
	if out["NumberReturned"] != "0" || out["TotalMatches"] != "1" {
		t.Fatalf("unexpected counts: %v", out)
	}
	decodeDIDL(t, out["Result"])
}

func TestSearch(t *testing.T) {
	s := newTestService(t)
	tests := []struct {
		criteria string
		total    string
	}{
		{`*`, "2"},
		{`upnp:class derivedfrom "object.item.audioItem"`, "1"},
		{`upnp:class derivedfrom "object.container"`, "1"},
		{`dc:title contains "SONG"`, "1"},
		{`upnp:artist = "Nina" and upnp:genre = "Jazz"`, "1"},
		{`upnp:artist = "Nobody" or dc:title = "Music"`, "1"},
		{`upnp:album exists true`, "1"},
		{`@refID exists false and upnp:class derivedfrom "object.item"`, "1"},
		{`dc:title doesNotContain "song"`, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.criteria, func(t *testing.T) {
			args, err := s.Handle(context.Background(), searchCall("0", tt.criteria))
			if err != nil {
				t.Fatal(err)
			}
			out := argMap(args)
			if out["TotalMatches"] != tt.total {
				t.Fatalf("expected %s matches, got %s", tt.total, out["TotalMatches"])
			}
			decodeDIDL(t, out["Result"])
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	s := newTestService(t)

	_, err := s.Handle(context.Background(), searchCall("0", `dc:rating > "3"`))
	if got := faultCode(t, err); got != upnp.ErrCodeUnsupportedSearch {
		t.Fatalf("expected 708, got %d", got)
	}
	_, err = s.Handle(context.Background(), searchCall("missing", "*"))
	if got := faultCode(t, err); got != upnp.ErrCodeNoSuchObject {
		t.Fatalf("expected 701, got %d", got)
	}
	_, err = s.Handle(context.Background(), searchCall("song", "*"))
	if got := faultCode(t, err); got != upnp.ErrCodeNoSuchContainer {
		t.Fatalf("expected 710, got %d", got)
	}
}

func TestCapabilities(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	args, _ := s.Handle(ctx, upnp.NewCall(ServiceType, "GetSortCapabilities", nil))
	if v := argMap(args)["SortCaps"]; v != "" {
		t.Errorf("expected empty sort caps, got %q", v)
	}
	args, _ = s.Handle(ctx, upnp.NewCall(ServiceType, "GetSearchCapabilities", nil))
	if v := argMap(args)["SearchCaps"]; !strings.Contains(v, "upnp:class") {
		t.Errorf("unexpected search caps %q", v)
	}
	args, _ = s.Handle(ctx, upnp.NewCall(ServiceType, "GetSystemUpdateID", nil))
	if v := argMap(args)["Id"]; v != "7" {
		t.Errorf("expected 7, got %q", v)
	}
	args, _ = s.Handle(ctx, upnp.NewCall(ServiceType, "GetFeatureList", nil))
	if v := argMap(args)["FeatureList"]; !strings.Contains(v, "<Features") {
		t.Errorf("unexpected feature list %q", v)
	}
}

// Exercises the whole control path: SOAP in, DIDL escaped inside SOAP out.
func TestControlEndpoint(t *testing.T) {
	h, err := upnp.NewHandler(upnp.DeviceInfo{UDN: "uuid:test", FriendlyName: "t", ModelName: "m"}, zerolog.Nop(), newTestService(t))
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	h.Mount(r)

	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body><u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<ObjectID>0</ObjectID><BrowseFlag>BrowseDirectChildren</BrowseFlag><Filter>*</Filter>
<StartingIndex>0</StartingIndex><RequestedCount>10</RequestedCount><SortCriteria></SortCriteria>
</u:Browse></s:Body></s:Envelope>`
	req := httptest.NewRequest(http.MethodPost, "/ContentDirectory/control", strings.NewReader(body))
	req.Header.Set("SOAPACTION", `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result string `xml:"Body>BrowseResponse>Result"`
		Total  int    `xml:"Body>BrowseResponse>TotalMatches"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Fatalf("expected 1 match, got %d", resp.Total)
	}
	if d := decodeDIDL(t, resp.Result); len(d.Containers) != 1 {
		t.Fatalf("unexpected result %+v", d)
	}

	// Unknown object: still a parseable fault.
	req = httptest.NewRequest(http.MethodPost, "/ContentDirectory/control",
		strings.NewReader(strings.Replace(body, "<ObjectID>0</ObjectID>", "<ObjectID>ghost</ObjectID>", 1)))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var fault struct {
		Code int `xml:"Body>Fault>detail>UPnPError>errorCode"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &fault); err != nil {
		t.Fatalf("fault not well-formed: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || fault.Code != 701 {
		t.Fatalf("expected 500/701, got %d/%d", rec.Code, fault.Code)
	}
}
