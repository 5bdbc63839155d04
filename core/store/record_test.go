package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	records := []Record{
		&Entity{Name: "AIPM_Config", EntityType: "component", Observations: []string{"loads yaml", "merges defaults"}},
		&Entity{Name: "AIPM_Empty", EntityType: "marker", Observations: []string{}},
		&Entity{Name: "AIPM_Timed", EntityType: "event", Observations: []string{"x"}, Timestamp: 42},
		&Relation{From: "AIPM_Config", To: "AIPM_Empty", RelationType: "configures"},
	}

	for _, rec := range records {
		encoded, err := Encode(rec)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		decoded, err := DecodeLine(encoded, 1)
		if err != nil {
			t.Fatalf("DecodeLine failed on %s: %v", encoded, err)
		}

		if !reflect.DeepEqual(rec, decoded) {
			t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, rec)
		}
	}
}

func TestEncodeByteStable(t *testing.T) {
	line := []byte(`{"type":"entity","name":"AIPM_X","entityType":"note","observations":["a","b"]}`)

	rec, err := DecodeLine(line, 1)
	if err != nil {
		t.Fatalf("DecodeLine failed: %v", err)
	}

	encoded, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if string(encoded) != string(line) {
		t.Errorf("decode→encode not byte-stable:\n got %s\nwant %s", encoded, line)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeLine([]byte(`{"type":"entity","name":`), 7)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if decErr.Line != 7 {
		t.Errorf("line: got %d, want 7", decErr.Line)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"name":"AIPM_X"}`),
		[]byte(`{"type":"widget","name":"AIPM_X"}`),
	}

	for _, line := range cases {
		_, err := DecodeLine(line, 1)
		if !errors.Is(err, ErrUnknownKind) {
			t.Errorf("%s: expected ErrUnknownKind, got %v", line, err)
		}
	}
}

func TestTimestampValue(t *testing.T) {
	cases := []struct {
		entity Entity
		want   float64
	}{
		{Entity{Timestamp: 99}, 99},
		{Entity{Observations: []string{"note", "timestamp:17"}}, 17},
		{Entity{Observations: []string{"timestamp: 3.5"}}, 3.5},
		{Entity{Observations: []string{"timestamp:bogus"}}, 0},
		{Entity{}, 0},
	}

	for i, tc := range cases {
		if got := tc.entity.TimestampValue(); got != tc.want {
			t.Errorf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestRelationKey(t *testing.T) {
	a := &Relation{From: "A", To: "B", RelationType: "uses"}
	b := &Relation{From: "A", To: "B", RelationType: "uses"}
	c := &Relation{From: "A", To: "B", RelationType: "owns"}

	if a.Key() != b.Key() {
		t.Error("identical relations should share a key")
	}
	if a.Key() == c.Key() {
		t.Error("distinct relation types should not collide")
	}
}

func TestIsEmptyStoreContent(t *testing.T) {
	if !IsEmptyStoreContent(nil) {
		t.Error("nil content should be an empty store")
	}
	if !IsEmptyStoreContent([]byte("  \n")) {
		t.Error("whitespace should be an empty store")
	}
	if !IsEmptyStoreContent([]byte("{}\n")) {
		t.Error("bare {} should be an empty store")
	}
	if IsEmptyStoreContent([]byte(`{"type":"entity"}`)) {
		t.Error("a record is not an empty store")
	}
}
