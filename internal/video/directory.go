package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirectorySource replays the JPEG files of a directory in name order at a
// fixed interval. It is used for demos and tests.
type DirectorySource struct {
	files    []string
	interval time.Duration
	loop     bool

	mu     sync.Mutex
	pos    int
	seq    uint64
	last   time.Time
	closed bool
}

// OpenDirectorySource lists *.jpg and *.jpeg files in dir. fps <= 0 replays as
// fast as frames are requested.
func OpenDirectorySource(dir string, fps int, loop bool) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no jpeg files in %s", ErrSourceUnavailable, dir)
	}
	sort.Strings(files)

	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}

	return &DirectorySource{
		files:    files,
		interval: interval,
		loop:     loop,
	}, nil
}

// Len returns the number of files replayed per pass
func (d *DirectorySource) Len() int {
	return len(d.files)
}

// Next waits for the pacing interval and returns the next file as a frame
func (d *DirectorySource) Next(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Frame{}, ErrSourceClosed
	}
	if d.pos >= len(d.files) {
		if !d.loop {
			d.mu.Unlock()
			return Frame{}, ErrSourceClosed
		}
		d.pos = 0
	}
	path := d.files[d.pos]
	d.pos++
	wait := time.Duration(0)
	if !d.last.IsZero() && d.interval > 0 {
		wait = d.interval - time.Since(d.last)
	}
	d.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Frame{}, ErrSourceClosed
	}
	d.last = time.Now()
	d.seq++
	return newFrame(data, d.last, d.seq), nil
}

// Close stops the replay
func (d *DirectorySource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
