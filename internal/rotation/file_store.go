package rotation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	fileHeader      = "Timestamp\ti5_rotation"
	timestampLayout = "2006-01-02 15:04:05.000000"
	parseLayout     = "2006-01-02 15:04:05.999999999"
	lockRetryDelay  = 50 * time.Millisecond
)

// ErrMalformedRecord reports a line in the record file that cannot be parsed.
var ErrMalformedRecord = errors.New("malformed rotation record")

// FileStore keeps rotation records in a tab-separated file guarded by an
// advisory lock next to it.
type FileStore struct {
	path string
	lock *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the record file location.
func (s *FileStore) Path() string {
	return s.path
}

// Last returns the final record in the file.
func (s *FileStore) Last(ctx context.Context) (Record, bool, error) {
	if ok, err := s.exists(); err != nil || !ok {
		return Record{}, false, err
	}
	if err := s.acquire(ctx, false); err != nil {
		return Record{}, false, err
	}
	defer func() { _ = s.lock.Unlock() }()

	records, err := s.read()
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[len(records)-1], true, nil
}

// Records returns every record in file order.
func (s *FileStore) Records(ctx context.Context) ([]Record, error) {
	if ok, err := s.exists(); err != nil || !ok {
		return nil, err
	}
	if err := s.acquire(ctx, false); err != nil {
		return nil, err
	}
	defer func() { _ = s.lock.Unlock() }()
	return s.read()
}

// Append adds rec to the end of the file, writing the header first when the
// file is new.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	if rec.Index < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, rec.Index)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create record directory: %w", err)
		}
	}
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rotation record: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat rotation record: %w", err)
	}
	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(fileHeader + "\n")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "%s\t%d\n", ts.Format(timestampLayout), rec.Index)
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write rotation record: %w", err)
	}
	return f.Close()
}

func (s *FileStore) acquire(ctx context.Context, exclusive bool) error {
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("lock rotation record: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock rotation record: %s is held by another process", s.lock.Path())
	}
	return nil
}

func (s *FileStore) exists() (bool, error) {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat rotation record: %w", err)
	}
}

// read parses the record file. The header line is skipped, as are blank lines.
func (s *FileStore) read() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open rotation record: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || (line == 1 && text == fileHeader) {
			continue
		}
		rec, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rotation record: %w", err)
	}
	return records, nil
}

func parseLine(text string) (Record, error) {
	stamp, index, ok := strings.Cut(text, "\t")
	if !ok {
		return Record{}, fmt.Errorf("%w: missing tab separator", ErrMalformedRecord)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(index))
	if err != nil {
		return Record{}, fmt.Errorf("%w: index %q", ErrMalformedRecord, index)
	}
	ts, err := time.ParseInLocation(parseLayout, strings.TrimSpace(stamp), time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, stamp)
	}
	return Record{Timestamp: ts, Index: idx}, nil
}
