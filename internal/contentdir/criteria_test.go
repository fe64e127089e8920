package contentdir

import (
	"errors"
	"testing"

	"dlnamedia/internal/catalog"
)

func TestParseCriteria_Matching(t *testing.T) {
	track := &catalog.Object{
		ID:    "t1",
		Title: `Say "Hello"`,
		Kind:  catalog.KindAudioItem,
		Audio: &catalog.AudioItem{Tags: catalog.Tags{Artist: "Ann", Genre: "Pop"}},
	}
	folder := &catalog.Object{ID: "f1", Title: "Pop", Kind: catalog.KindContainer, Container: &catalog.Container{}}

	tests := []struct {
		criteria  string
		track     bool
		container bool
	}{
		{`*`, true, true},
		{``, true, true},
		{`upnp:class = "object.item.audioItem.musicTrack"`, true, false},
		{`upnp:class derivedfrom "object.item"`, true, false},
		{`upnp:class contains "container"`, false, true},
		{`dc:title = "say \"hello\""`, true, false},
		{`dc:creator = "ann"`, true, false},
		{`upnp:genre exists false`, false, true},
		{`@id = "f1"`, false, true},
		{`@id != "f1"`, true, false},
		{`dc:title contains "pop" or upnp:genre = "Pop"`, true, true},
		// and binds tighter than or
		{`upnp:genre = "Rock" and upnp:artist = "Ann" or dc:title = "Pop"`, false, true},
		{`upnp:genre = "Rock" and (upnp:artist = "Ann" or dc:title = "Pop")`, false, false},
		{`(upnp:class derivedfrom "object.item" AND upnp:artist contains "an")`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.criteria, func(t *testing.T) {
			c, err := ParseCriteria(tt.criteria)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := c.Match(track); got != tt.track {
				t.Errorf("track: got %v want %v", got, tt.track)
			}
			if got := c.Match(folder); got != tt.container {
				t.Errorf("container: got %v want %v", got, tt.container)
			}
		})
	}
}

func TestParseCriteria_Rejects(t *testing.T) {
	for _, s := range []string{
		`dc:title`,
		`dc:title =`,
		`dc:title = unquoted`,
		`dc:title = "open`,
		`(dc:title = "a"`,
		`dc:title = "a")`,
		`dc:title = "a" and`,
		`dc:date >= "2020"`,
		`upnp:artist derivedfrom "x"`,
		`upnp:album exists maybe`,
		`res@size > "1"`,
	} {
		if _, err := ParseCriteria(s); !errors.Is(err, ErrUnsupportedCriteria) {
			t.Errorf("%s: expected ErrUnsupportedCriteria, got %v", s, err)
		}
	}
}
