// Package filestore persists audit events as JSON lines in an append-only
// file with size-based rotation.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gzhole/eduguard/internal/audit"
)

// DefaultMaxBytes is the size at which the active file is rotated.
const DefaultMaxBytes int64 = 10 << 20

const maxLineBytes = 4 << 20

// Store is an audit.Store backed by a JSONL file. Rotated segments are
// renamed to path.1, path.2, ... and never rewritten.
type Store struct {
	path     string
	maxBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBytes sets the rotation threshold.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// New opens or creates the log at path with 0600 permissions.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// Append writes every event as one line in a single write call and syncs
// the file before returning.
func (s *Store) Append(ctx context.Context, events ...audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf []byte
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if s.size > 0 && s.size+int64(len(buf)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := s.file.Write(buf)
	s.size += int64(n)
	if err != nil {
		return err
	}
	return s.file.Sync()
}

// rotate renames the active file to the next free segment number.
func (s *Store) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	s.file = nil
	segs, err := s.segments()
	if err != nil {
		return err
	}
	next := len(segs) + 1
	if len(segs) > 0 {
		next = segs[len(segs)-1].n + 1
	}
	if err := os.Rename(s.path, fmt.Sprintf("%s.%d", s.path, next)); err != nil {
		return err
	}
	return s.open()
}

type segment struct {
	path string
	n    int
}

// segments lists rotated files, oldest first.
func (s *Store) segments() ([]segment, error) {
	matches, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return nil, err
	}
	var out []segment
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(m, s.path+"."))
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, segment{path: m, n: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out, nil
}

// Query reads every segment and the active file. A malformed line is an
// error, not a skipped record. A line repeating an earlier record's ID and
// hash is dropped: a write whose sync failed is appended again on retry.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs, err := s.segments()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(segs)+1)
	for _, seg := range segs {
		paths = append(paths, seg.path)
	}
	paths = append(paths, s.path)

	var all []audit.Event
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := readFile(p, f)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return f.Apply(dedupe(all)), nil
}

// dedupe drops exact repeats. Records sharing an ID but not a hash are
// kept so verification still sees them.
func dedupe(events []audit.Event) []audit.Event {
	seen := make(map[[2]string]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		key := [2]string{ev.ID, ev.Hash}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func readFile(path string, f audit.Filter) ([]audit.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var out []audit.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, scanner.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
