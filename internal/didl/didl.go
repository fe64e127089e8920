package didl

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"dlnamedia/internal/catalog"
)

type Resource struct {
	XMLName         xml.Name `xml:"res"`
	ProtocolInfo    string   `xml:"protocolInfo,attr"`
	Duration        string   `xml:"duration,attr,omitempty"`
	Bitrate         int64    `xml:"bitrate,attr,omitempty"` // bytes per second
	SampleFrequency int      `xml:"sampleFrequency,attr,omitempty"`
	Channels        int      `xml:"nrAudioChannels,attr,omitempty"`
	Language        string   `xml:"language,attr,omitempty"`
	URL             string   `xml:",chardata"`
}

type AlbumArt struct {
	ProfileID string `xml:"dlna:profileID,attr"`
	URI       string `xml:",chardata"`
}

type Object struct {
	ID          string    `xml:"id,attr"`
	ParentID    string    `xml:"parentID,attr"`
	Restricted  int       `xml:"restricted,attr"`
	Title       string    `xml:"dc:title"`
	Class       string    `xml:"upnp:class"`
	Date        string    `xml:"dc:date,omitempty"`
	Artist      string    `xml:"upnp:artist,omitempty"`
	Album       string    `xml:"upnp:album,omitempty"`
	Genre       string    `xml:"upnp:genre,omitempty"`
	TrackNumber int       `xml:"upnp:originalTrackNumber,omitempty"`
	AlbumArtURI *AlbumArt `xml:"upnp:albumArtURI,omitempty"`
}

type Container struct {
	XMLName    xml.Name `xml:"container"`
	Searchable int      `xml:"searchable,attr"`
	ChildCount int      `xml:"childCount,attr"`
	Object
}

type Item struct {
	XMLName xml.Name `xml:"item"`
	Object
	Res []Resource
}

// FormatFunc reports what a stream URL for the given track will serve.
type FormatFunc func(item *catalog.AudioItem, track catalog.Track) Format

// Encoder renders catalog objects as DIDL-Lite. BaseURL is the scheme and
// host the control point used to reach the server.
type Encoder struct {
	BaseURL string
	Format  FormatFunc
}

// Encode renders objects into one DIDL-Lite document. containerID is used
// as the parentID of objects that carry none.
func (e Encoder) Encode(objects []*catalog.Object, containerID string) (string, error) {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/"` +
		` xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"` +
		` xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/">`)

	for _, obj := range objects {
		out, err := xml.Marshal(e.element(obj, containerID))
		if err != nil {
			return "", fmt.Errorf("encode object %s: %w", obj.ID, err)
		}
		b.Write(out)
	}

	b.WriteString(`</DIDL-Lite>`)
	return b.String(), nil
}

func (e Encoder) element(obj *catalog.Object, containerID string) interface{} {
	o := Object{
		ID:         obj.ID,
		ParentID:   obj.ParentID,
		Restricted: 1,
		Title:      obj.Title,
		Class:      obj.Kind.Class(),
	}
	if o.ParentID == "" {
		o.ParentID = containerID
	}
	if !obj.ModifiedAt.IsZero() {
		o.Date = obj.ModifiedAt.Format("2006-01-02")
	}

	if obj.IsContainer() {
		if obj.Container.ArtPath != "" {
			o.AlbumArtURI = e.albumArt(obj.ID)
		}
		return Container{
			Object:     o,
			Searchable: 1,
			ChildCount: obj.Container.ChildCount(),
		}
	}

	item := Item{Object: o}
	audio := obj.Audio
	if audio == nil {
		return item
	}

	item.Artist = audio.Tags.Artist
	item.Album = audio.Tags.Album
	item.Genre = audio.Tags.Genre
	item.TrackNumber = audio.Tags.TrackNumber
	if audio.HasArt() {
		item.AlbumArtURI = e.albumArt(obj.ID)
	}

	for _, t := range orderedTracks(audio) {
		item.Res = append(item.Res, e.resource(obj, audio, t))
	}
	return item
}

func (e Encoder) resource(obj *catalog.Object, audio *catalog.AudioItem, t catalog.Track) Resource {
	var f Format
	if e.Format != nil {
		f = e.Format(audio, t)
	}
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}

	res := Resource{
		ProtocolInfo:    ProtocolInfo(f),
		SampleFrequency: t.SampleRate,
		Channels:        t.Channels,
		Language:        t.Language,
		URL:             ResourceURL(e.BaseURL, obj.ID, t.Index),
	}
	if audio.Source.Duration > 0 {
		res.Duration = FormatDuration(audio.Source.Duration)
	}
	if t.BitRate > 0 && !f.Transcoded {
		res.Bitrate = t.BitRate / 8
	}
	return res
}

func (e Encoder) albumArt(id string) *AlbumArt {
	return &AlbumArt{ProfileID: "JPEG_TN", URI: ArtURL(e.BaseURL, id)}
}

// orderedTracks lists the default track first, then the rest in stream
// order.
func orderedTracks(audio *catalog.AudioItem) []catalog.Track {
	tracks := make([]catalog.Track, 0, len(audio.Source.Tracks))
	if def, ok := audio.Track(audio.DefaultTrack); ok {
		tracks = append(tracks, def)
	}
	for _, t := range audio.Source.Tracks {
		if t.Index != audio.DefaultTrack {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// FormatDuration renders d as H:MM:SS.mmm.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms%1000)
}
