package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	hourLayout = "2006-01-02-15"
	fileSuffix = ".jsonl.zst"
)

// Journal is a directory of hourly zstd-compressed JSON line files named
// <prefix>-<YYYY-MM-DD-HH>.jsonl.zst. Names sort chronologically.
type Journal struct {
	Dir    string
	Prefix string
}

func (j Journal) path(hour string) string {
	return filepath.Join(j.Dir, j.Prefix+"-"+hour+fileSuffix)
}

// Files lists this journal's files oldest first.
func (j Journal) Files() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(j.Dir, j.Prefix+"-*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ForEachLine feeds every non-empty line to fn in write order. A missing
// directory is an empty journal.
func (j Journal) ForEachLine(fn func(line []byte) error) error {
	paths, err := j.Files()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := scanFile(p, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// decodeEach unmarshals every line into a fresh T.
func decodeEach[T any](j Journal, fn func(T) error) error {
	return j.ForEachLine(func(line []byte) error {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		return fn(v)
	})
}

// scanFile reads one file. Reopened hours hold several concatenated zstd
// frames; the decoder reads through them.
func scanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// segment is the open file for one hour.
type segment struct {
	hour string
	f    *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{hour: hour, f: f, zw: zw, bw: bufio.NewWriterSize(zw, 128*1024)}, nil
}

// appendLine writes b and a newline, then flushes through the encoder.
func (s *segment) appendLine(b []byte) error {
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	if err := s.bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segment) close() error {
	flushErr := s.bw.Flush()
	encErr := s.zw.Close()
	fileErr := s.f.Close()
	for _, err := range []error{flushErr, encErr, fileErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Writer appends JSON records to a Journal, moving to a new file when the
// UTC hour changes. Safe for concurrent use.
type Writer struct {
	j   Journal
	now func() time.Time

	mu  sync.Mutex
	cur *segment
}

func NewWriter(j Journal) *Writer {
	return &Writer{j: j, now: time.Now}
}

func (w *Writer) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	seg, err := w.segmentFor(w.now().UTC().Format(hourLayout))
	if err != nil {
		return err
	}
	return seg.appendLine(b)
}

func (w *Writer) segmentFor(hour string) (*segment, error) {
	if w.cur != nil && w.cur.hour == hour {
		return w.cur, nil
	}
	if w.cur != nil {
		err := w.cur.close()
		w.cur = nil
		if err != nil {
			return nil, err
		}
	}
	seg, err := openSegment(w.j.path(hour), hour)
	if err != nil {
		return nil, err
	}
	w.cur = seg
	return seg, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}
