package transcode

import (
	"fmt"
	"strconv"
	"strings"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/didl"
)

// Profile is the output format of one stream.
type Profile struct {
	Name        string
	MimeType    string
	DLNAProfile string
	Muxer       string   // ffmpeg -f value
	CodecArgs   []string // audio codec options
	Copy        bool     // the source codec is passed through unchanged
	// ByteRate estimates output bytes per second. Zero when unknown.
	ByteRate int64
}

func (p Profile) Format() didl.Format {
	return didl.Format{MimeType: p.MimeType, DLNAProfile: p.DLNAProfile, Transcoded: !p.Copy}
}

const (
	lpcmRate     = 44100
	lpcmChannels = 2
)

func copyProfile(codec string) (Profile, bool) {
	switch codec {
	case "mp3":
		return Profile{Name: "mp3", MimeType: "audio/mpeg", DLNAProfile: "MP3", Muxer: "mp3", CodecArgs: []string{"-c:a", "copy"}, Copy: true}, true
	case "flac":
		return Profile{Name: "flac", MimeType: "audio/flac", Muxer: "flac", CodecArgs: []string{"-c:a", "copy"}, Copy: true}, true
	case "aac":
		return Profile{Name: "aac", MimeType: "audio/vnd.dlna.adts", DLNAProfile: "AAC_ADTS", Muxer: "adts", CodecArgs: []string{"-c:a", "copy"}, Copy: true}, true
	default:
		return Profile{}, false
	}
}

// Selector picks the output profile for a track: a passthrough copy when
// renderers can play the codec as-is, the configured fallback otherwise.
type Selector struct {
	fallback Profile
	bitrate  int
}

// NewSelector accepts fallback "mp3", "flac" or "lpcm". bitrate (bits per
// second) applies to mp3.
func NewSelector(fallback string, bitrate int) (*Selector, error) {
	if bitrate <= 0 {
		bitrate = 320000
	}
	s := &Selector{bitrate: bitrate}
	switch strings.ToLower(fallback) {
	case "", "mp3":
		s.fallback = Profile{
			Name:        "mp3",
			MimeType:    "audio/mpeg",
			DLNAProfile: "MP3",
			Muxer:       "mp3",
			CodecArgs:   []string{"-c:a", "libmp3lame", "-b:a", strconv.Itoa(bitrate/1000) + "k"},
			ByteRate:    int64(bitrate / 8),
		}
	case "flac":
		s.fallback = Profile{
			Name:      "flac",
			MimeType:  "audio/flac",
			Muxer:     "flac",
			CodecArgs: []string{"-c:a", "flac"},
		}
	case "lpcm", "wav", "pcm":
		s.fallback = Profile{
			Name:        "lpcm",
			MimeType:    fmt.Sprintf("audio/L16;rate=%d;channels=%d", lpcmRate, lpcmChannels),
			DLNAProfile: "LPCM",
			Muxer:       "s16be",
			CodecArgs:   []string{"-c:a", "pcm_s16be", "-ar", strconv.Itoa(lpcmRate), "-ac", strconv.Itoa(lpcmChannels)},
			ByteRate:    lpcmRate * lpcmChannels * 2,
		}
	default:
		return nil, fmt.Errorf("unknown fallback profile %q", fallback)
	}
	return s, nil
}

func (s *Selector) Fallback() Profile {
	return s.fallback
}

// Select returns the profile for t with ByteRate filled in from the track
// where the profile itself cannot know it.
func (s *Selector) Select(t catalog.Track) Profile {
	p, ok := copyProfile(strings.ToLower(t.Codec))
	if !ok {
		p = s.fallback
	}
	if p.ByteRate == 0 {
		p.ByteRate = estimateByteRate(p, t)
	}
	return p
}

// Format satisfies didl.FormatFunc.
func (s *Selector) Format(_ *catalog.AudioItem, t catalog.Track) didl.Format {
	return s.Select(t).Format()
}

// ProtocolInfos lists the protocolInfo of every profile this selector can
// produce.
func (s *Selector) ProtocolInfos() []string {
	var out []string
	seen := map[string]bool{}
	for _, codec := range []string{"mp3", "flac", "aac"} {
		p, _ := copyProfile(codec)
		out = append(out, didl.ProtocolInfo(p.Format()))
		seen[p.MimeType+p.DLNAProfile] = true
	}
	if key := s.fallback.MimeType + s.fallback.DLNAProfile; !seen[key] {
		out = append(out, didl.ProtocolInfo(s.fallback.Format()))
	}
	return out
}

func estimateByteRate(p Profile, t catalog.Track) int64 {
	if p.Copy && t.BitRate > 0 {
		return t.BitRate / 8
	}
	rate, ch := t.SampleRate, t.Channels
	if rate <= 0 {
		rate = 44100
	}
	if ch <= 0 {
		ch = 2
	}
	switch p.Name {
	case "flac":
		// Roughly 60% of 16-bit PCM.
		return int64(rate*ch*2) * 6 / 10
	case "mp3":
		return 320000 / 8
	case "aac":
		return 256000 / 8
	default:
		return int64(rate * ch * 2)
	}
}
