package media

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"
)

var ErrNoPicture = errors.New("no embedded picture")

type Tags struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	Year        int
	HasPicture  bool
}

// ReadTags reads ID3/MP4/FLAC/Ogg metadata from an audio file.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return Tags{}, fmt.Errorf("read tags %s: %w", path, err)
	}

	artist := strings.TrimSpace(m.Artist())
	if artist == "" {
		artist = strings.TrimSpace(m.AlbumArtist())
	}
	track, _ := m.Track()

	return Tags{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      artist,
		Album:       strings.TrimSpace(m.Album()),
		Genre:       strings.TrimSpace(m.Genre()),
		TrackNumber: track,
		Year:        m.Year(),
		HasPicture:  m.Picture() != nil && len(m.Picture().Data) > 0,
	}, nil
}

// EmbeddedPicture returns the cover image stored in the file's tags.
func EmbeddedPicture(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", err
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", ErrNoPicture
	}

	mimeType := pic.MIMEType
	if mimeType == "" {
		mimeType = ImageContentType("cover." + pic.Ext)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return pic.Data, mimeType, nil
}
