package storage

import "time"

// ProbedFile is the cached result of probing one media file. A cached row is
// only valid while Size and ModifiedAt still match the file on disk.
type ProbedFile struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
	Format     string
	Duration   time.Duration
	BitRate    int64
	IsVideo    bool
	Tracks     []ProbedTrack
	// DefaultTrack is a position in Tracks.
	DefaultTrack int
	Tags         FileTags
	ProbedAt     time.Time
}

type ProbedTrack struct {
	StreamIndex int
	Codec       string
	Channels    int // 2 = stereo, 6 = 5.1
	SampleRate  int
	BitRate     int64
	Language    string
	Title       string
}

type FileTags struct {
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	Year        int
	HasPicture  bool
}

// Matches reports whether the cached row still describes a file of the given
// size and modification time.
func (f *ProbedFile) Matches(size int64, modifiedAt time.Time) bool {
	return f.Size == size && f.ModifiedAt.Equal(modifiedAt)
}
