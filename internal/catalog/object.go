package catalog

import (
	"time"
)

const (
	RootID       = "0"
	RootParentID = "-1"
)

type Kind int

const (
	KindContainer Kind = iota
	KindAudioItem
)

// Class returns the UPnP object class for the kind.
func (k Kind) Class() string {
	switch k {
	case KindContainer:
		return "object.container.storageFolder"
	case KindAudioItem:
		return "object.item.audioItem.musicTrack"
	default:
		return "object"
	}
}

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindAudioItem:
		return "audio"
	default:
		return "unknown"
	}
}

// Object is a node of the catalog tree. Objects handed out by a Catalog
// are shared and must not be modified.
type Object struct {
	ID         string
	ParentID   string
	Title      string
	Kind       Kind
	ModifiedAt time.Time

	Container *Container // set when Kind == KindContainer
	Audio     *AudioItem // set when Kind == KindAudioItem
}

func (o *Object) IsContainer() bool {
	return o.Kind == KindContainer && o.Container != nil
}

type Container struct {
	Children []string
	// ArtPath is a sidecar image found in the directory, if any.
	ArtPath string
}

func (c *Container) ChildCount() int {
	return len(c.Children)
}

type AudioItem struct {
	Source       SourceFile
	DefaultTrack int
	Tags         Tags
	// ArtPath is a sidecar cover image next to the source file.
	ArtPath     string
	EmbeddedArt bool
}

// HasArt reports whether cover art can be served for the item.
func (a *AudioItem) HasArt() bool {
	return a.ArtPath != "" || a.EmbeddedArt || a.Source.IsVideo
}

// Track returns the track at index, or false if the index is out of range.
func (a *AudioItem) Track(index int) (Track, bool) {
	if index < 0 || index >= len(a.Source.Tracks) {
		return Track{}, false
	}
	return a.Source.Tracks[index], true
}

type SourceFile struct {
	Path     string
	Format   string // container format as reported by the probe
	Size     int64
	Duration time.Duration
	BitRate  int64
	IsVideo  bool
	Tracks   []Track
}

// Track is one audio stream of a source file. Index is the position within
// SourceFile.Tracks and is what stream URLs carry; StreamIndex is the
// stream number inside the container.
type Track struct {
	Index       int
	StreamIndex int
	Codec       string
	Channels    int
	SampleRate  int
	BitRate     int64
	Language    string
	Title       string
}

type Tags struct {
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	Year        int
}
