// Package transcodetest provides a fake ffmpeg for tests. The test binary
// re-executes itself in a mode chosen by the test; TestMain must call Main
// before anything else.
package transcodetest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const envMode = "DLNAMEDIA_FAKE_TRANSCODER"

// Modes of the fake transcoder.
const (
	// Stream writes chunks until it is killed.
	Stream = "stream"
	// Short writes ShortOutputLen bytes and exits cleanly.
	Short = "short"
	// Fail writes an error to stderr and exits 1 without output.
	Fail = "fail"
	// Partial writes one chunk, then fails.
	Partial = "partial"
	// Hang produces nothing and never exits on its own.
	Hang = "hang"
)

const (
	ChunkLen       = 4096
	ShortOutputLen = 3 * ChunkLen
	FailMessage    = "Invalid data found when processing input"
)

// Main runs the fake transcoder and exits when the process was started by
// Command. Otherwise it returns immediately.
func Main() {
	mode := os.Getenv(envMode)
	if mode == "" {
		return
	}
	os.Exit(run(mode))
}

// Command returns an exec.Command replacement that starts the fake in mode.
// The ffmpeg arguments are passed through after "--".
func Command(mode string) func(name string, args ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], append([]string{"-test.run=^$", "--"}, args...)...)
		cmd.Env = append(os.Environ(), envMode+"="+mode)
		return cmd
	}
}

func run(mode string) int {
	chunk := bytes.Repeat([]byte{'a'}, ChunkLen)
	switch mode {
	case Stream:
		for {
			if _, err := os.Stdout.Write(chunk); err != nil {
				return 1
			}
			time.Sleep(5 * time.Millisecond)
		}
	case Short:
		for i := 0; i < ShortOutputLen/ChunkLen; i++ {
			os.Stdout.Write(chunk)
		}
		return 0
	case Fail:
		fmt.Fprintln(os.Stderr, FailMessage)
		return 1
	case Partial:
		os.Stdout.Write(chunk)
		time.Sleep(20 * time.Millisecond)
		fmt.Fprintln(os.Stderr, "Error while decoding stream #0:1")
		return 1
	case Hang:
		time.Sleep(time.Hour)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown fake mode %q\n", mode)
		return 2
	}
}
