package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	defaultPoll   = 250 * time.Millisecond
	shortIDLength = 8
)

// Query selects log entries.
type Query struct {
	// RunID keeps entries of one run. A prefix of at least eight characters
	// matches both the console header and the JSON run_id field.
	RunID string
	// Limit is the number of most recent entries Tail returns; <= 0 means all.
	Limit int
}

// Page is a batch of entries and the file offset reading stopped at.
type Page struct {
	Entries []string
	Offset  int64
}

// Tail returns the most recent entries matching q. A missing file yields an
// empty page.
func Tail(path string, q Query) (Page, error) {
	entries, offset, err := readEntries(path, 0)
	if err != nil {
		return Page{}, err
	}
	entries = filter(entries, q)
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[len(entries)-q.Limit:]
	}
	return Page{Entries: entries, Offset: offset}, nil
}

// Follow calls emit for every matching entry appended after offset, polling
// every poll interval until ctx is done. A file that shrinks is reread from
// the start.
func Follow(ctx context.Context, path string, offset int64, q Query, poll time.Duration, emit func(string) error) error {
	if poll <= 0 {
		poll = defaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && info.Size() < offset {
			offset = 0
		}
		entries, next, err := readEntries(path, offset)
		if err != nil {
			return err
		}
		for _, e := range filter(entries, q) {
			if err := emit(e); err != nil {
				return err
			}
		}
		offset = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// readEntries groups lines from offset into entries. A trailing partial line
// is left for the next read.
func readEntries(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var (
		entries []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			entries = append(entries, current.String())
			current.Reset()
		}
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if !isContinuation(line) {
			flush()
		} else if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return entries, offset, nil
}

func isContinuation(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func filter(entries []string, q Query) []string {
	id := strings.TrimSpace(q.RunID)
	if id == "" {
		return entries
	}
	if len(id) > shortIDLength {
		id = id[:shortIDLength]
	}
	out := entries[:0:0]
	for _, e := range entries {
		if strings.Contains(e, id) {
			out = append(out, e)
		}
	}
	return out
}
