package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReaderStreamsRecords(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"entity","name":"AIPM_A","entityType":"note","observations":[]}`,
		``,
		`{"type":"relation","from":"AIPM_A","to":"AIPM_B","relationType":"links"}`,
	}, "\n")

	r := NewReader(strings.NewReader(input))

	first, err := r.Next()
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if first.Kind() != KindEntity {
		t.Errorf("first kind: got %s", first.Kind())
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if second.Kind() != KindRelation {
		t.Errorf("second kind: got %s", second.Kind())
	}
	if r.Line() != 3 {
		t.Errorf("line: got %d, want 3", r.Line())
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderSkipsPlaceholder(t *testing.T) {
	r := NewReader(strings.NewReader("{}\n"))

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("bare {} store should read as empty, got %v", err)
	}
}

func TestReaderContinuesPastBadLine(t *testing.T) {
	input := "not json\n" +
		`{"type":"entity","name":"AIPM_A","entityType":"note","observations":[]}` + "\n"

	r := NewReader(strings.NewReader(input))

	_, err := r.Next()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("reader should survive a bad line: %v", err)
	}
	if rec.Kind() != KindEntity {
		t.Errorf("kind after bad line: got %s", rec.Kind())
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)

	if err := w.WriteRecord(&Entity{Name: "AIPM_A", EntityType: "note", Observations: []string{"x"}}); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if err := w.WriteRecord(&Relation{From: "AIPM_A", To: "AIPM_B", RelationType: "links"}); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	r := NewReader(strings.NewReader(sb.String()))
	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("record count: got %d, want 2", count)
	}
}

func TestProbeFirstRecord(t *testing.T) {
	tmpDir := t.TempDir()

	valid := filepath.Join(tmpDir, "valid.json")
	writeFile(t, valid, `{"type":"entity","name":"AIPM_A","entityType":"note","observations":[]}`+"\n")
	if err := ProbeFirstRecord(valid); err != nil {
		t.Errorf("valid store should probe clean: %v", err)
	}

	empty := filepath.Join(tmpDir, "empty.json")
	writeFile(t, empty, "")
	if err := ProbeFirstRecord(empty); err != nil {
		t.Errorf("empty store should probe clean: %v", err)
	}

	corrupt := filepath.Join(tmpDir, "corrupt.json")
	writeFile(t, corrupt, "garbage\n")
	if err := ProbeFirstRecord(corrupt); err == nil {
		t.Error("corrupt store should fail the probe")
	}

	if err := ProbeFirstRecord(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("missing store should fail the probe")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}
