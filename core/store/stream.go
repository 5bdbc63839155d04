package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxLineBytes bounds a single record line. Records never span lines, so
// anything larger is corrupt rather than legitimate.
const maxLineBytes = 4 * 1024 * 1024

// Reader streams records from a store file one line at a time.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next record, or io.EOF when the input is exhausted.
// Blank lines and bare {} placeholder lines are skipped, not errors.
// Decode failures return a *DecodeError carrying the line number; the
// reader stays usable so callers can keep scanning past bad lines.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 || bytes.Equal(line, []byte("{}")) {
			continue
		}
		return DecodeLine(line, r.line)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	return nil, io.EOF
}

// Line returns the line number of the most recently scanned line.
func (r *Reader) Line() int {
	return r.line
}

// Writer appends encoded records to an output, one per line.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) WriteRecord(r Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// ProbeFirstRecord opens path and attempts to decode its first record.
// An empty store probes clean. Used as the trial read during handoff
// reclaim, so it must never block or hold the file open longer than one
// scan.
func ProbeFirstRecord(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("probe store: %w", err)
	}
	defer f.Close()

	_, err = NewReader(f).Next()
	if err == io.EOF {
		return nil
	}
	return err
}
