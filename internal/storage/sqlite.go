package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probed_files (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		file_modified_at INTEGER NOT NULL,
		format TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		bit_rate INTEGER NOT NULL DEFAULT 0,
		is_video BOOLEAN NOT NULL DEFAULT FALSE,
		default_track INTEGER NOT NULL DEFAULT 0,
		artist TEXT NOT NULL DEFAULT '',
		album TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		track_number INTEGER NOT NULL DEFAULT 0,
		year INTEGER NOT NULL DEFAULT 0,
		has_picture BOOLEAN NOT NULL DEFAULT FALSE,
		probed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS probed_tracks (
		path TEXT NOT NULL REFERENCES probed_files(path) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		stream_index INTEGER NOT NULL,
		codec TEXT NOT NULL,
		channels INTEGER NOT NULL DEFAULT 0,
		sample_rate INTEGER NOT NULL DEFAULT 0,
		bit_rate INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (path, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetProbedFile returns the cached probe for path, or nil if there is none.
func (s *SQLiteStorage) GetProbedFile(ctx context.Context, path string) (*ProbedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, size, file_modified_at, format, duration_ms, bit_rate, is_video, default_track,
		       artist, album, genre, track_number, year, has_picture, probed_at
		FROM probed_files WHERE path = ?
	`, path)

	var f ProbedFile
	var modifiedNanos, durationMs int64
	err := row.Scan(
		&f.Path, &f.Size, &modifiedNanos, &f.Format, &durationMs, &f.BitRate, &f.IsVideo, &f.DefaultTrack,
		&f.Tags.Artist, &f.Tags.Album, &f.Tags.Genre, &f.Tags.TrackNumber, &f.Tags.Year,
		&f.Tags.HasPicture, &f.ProbedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.ModifiedAt = time.Unix(0, modifiedNanos)
	f.Duration = time.Duration(durationMs) * time.Millisecond

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_index, codec, channels, sample_rate, bit_rate, language, title
		FROM probed_tracks WHERE path = ? ORDER BY position
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t ProbedTrack
		if err := rows.Scan(&t.StreamIndex, &t.Codec, &t.Channels, &t.SampleRate, &t.BitRate, &t.Language, &t.Title); err != nil {
			return nil, err
		}
		f.Tracks = append(f.Tracks, t)
	}

	return &f, rows.Err()
}

// SaveProbedFile inserts or replaces the cached probe for f.Path, tracks
// included.
func (s *SQLiteStorage) SaveProbedFile(ctx context.Context, f *ProbedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	probedAt := f.ProbedAt
	if probedAt.IsZero() {
		probedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO probed_files (
			path, size, file_modified_at, format, duration_ms, bit_rate, is_video, default_track,
			artist, album, genre, track_number, year, has_picture, probed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			file_modified_at = excluded.file_modified_at,
			format = excluded.format,
			duration_ms = excluded.duration_ms,
			bit_rate = excluded.bit_rate,
			is_video = excluded.is_video,
			default_track = excluded.default_track,
			artist = excluded.artist,
			album = excluded.album,
			genre = excluded.genre,
			track_number = excluded.track_number,
			year = excluded.year,
			has_picture = excluded.has_picture,
			probed_at = excluded.probed_at
	`,
		f.Path, f.Size, f.ModifiedAt.UnixNano(), f.Format, f.Duration.Milliseconds(), f.BitRate, f.IsVideo, f.DefaultTrack,
		f.Tags.Artist, f.Tags.Album, f.Tags.Genre, f.Tags.TrackNumber, f.Tags.Year, f.Tags.HasPicture,
		probedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", f.Path, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM probed_tracks WHERE path = ?", f.Path); err != nil {
		return err
	}

	for i, t := range f.Tracks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO probed_tracks (path, position, stream_index, codec, channels, sample_rate, bit_rate, language, title)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.Path, i, t.StreamIndex, t.Codec, t.Channels, t.SampleRate, t.BitRate, t.Language, t.Title)
		if err != nil {
			return fmt.Errorf("insert track %d of %s: %w", i, f.Path, err)
		}
	}

	return tx.Commit()
}

// DeleteProbedFile removes a cached probe and its tracks
func (s *SQLiteStorage) DeleteProbedFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM probed_files WHERE path = ?", path)
	return err
}

// GetAllProbedPaths returns every cached path, for cleanup after a scan.
func (s *SQLiteStorage) GetAllProbedPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM probed_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// PruneExcept deletes every cached probe whose path is not in keep and
// returns how many rows were removed.
func (s *SQLiteStorage) PruneExcept(ctx context.Context, keep map[string]bool) (int, error) {
	paths, err := s.GetAllProbedPaths(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, path := range paths {
		if keep[path] {
			continue
		}
		if err := s.DeleteProbedFile(ctx, path); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", path, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *SQLiteStorage) CountProbedFiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM probed_files").Scan(&n)
	return n, err
}
