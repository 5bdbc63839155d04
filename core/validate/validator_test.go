package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestValidator(t *testing.T, policy Policy, config Config) *Validator {
	t.Helper()
	v, err := NewValidator(policy, config, nil)
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	return v
}

func entityLine(name string) string {
	return fmt.Sprintf(`{"type":"entity","name":%q,"entityType":"note","observations":[]}`, name)
}

func relationLine(from, to, relType string) string {
	return fmt.Sprintf(`{"type":"relation","from":%q,"to":%q,"relationType":%q}`, from, to, relType)
}

func TestValidateCounts(t *testing.T) {
	input := strings.Join([]string{
		entityLine("AIPM_A"),
		entityLine("AIPM_B"),
		relationLine("AIPM_A", "AIPM_B", "links"),
	}, "\n")

	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report := v.ValidateReader(strings.NewReader(input), 0)

	if !report.IsValid() {
		t.Fatalf("expected valid, got %v", report.Errors)
	}
	if report.EntityCount != 2 {
		t.Errorf("entity count: got %d, want 2", report.EntityCount)
	}
	if report.RelationCount != 1 {
		t.Errorf("relation count: got %d, want 1", report.RelationCount)
	}
}

func TestValidateEmptyStore(t *testing.T) {
	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())

	for _, input := range []string{"", "{}\n", "   \n"} {
		report := v.ValidateReader(strings.NewReader(input), 0)
		if !report.IsValid() {
			t.Errorf("%q should validate as empty store: %v", input, report.Errors)
		}
	}
}

func TestValidatePrefixPolicy(t *testing.T) {
	input := entityLine("Rogue_X") + "\n"

	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report := v.ValidateReader(strings.NewReader(input), 0)

	if report.IsValid() {
		t.Fatal("off-prefix entity should fail validation")
	}
	if !strings.Contains(report.Errors[0].Message, "naming prefix") {
		t.Errorf("unexpected error: %s", report.Errors[0].Message)
	}
}

func TestValidateCaseInsensitivePrefix(t *testing.T) {
	policy := DefaultPolicy()
	policy.CaseInsensitive = true

	v := newTestValidator(t, policy, DefaultConfig())
	report := v.ValidateReader(strings.NewReader(entityLine("aipm_x")+"\n"), 0)

	if !report.IsValid() {
		t.Errorf("case-insensitive policy should accept aipm_x: %v", report.Errors)
	}
}

func TestValidateAllowPatterns(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPatterns = []string{"Legacy_*"}

	v := newTestValidator(t, policy, DefaultConfig())

	report := v.ValidateReader(strings.NewReader(entityLine("Legacy_Thing")+"\n"), 0)
	if !report.IsValid() {
		t.Errorf("allow pattern should exempt Legacy_Thing: %v", report.Errors)
	}

	report = v.ValidateReader(strings.NewReader(entityLine("Other_Thing")+"\n"), 0)
	if report.IsValid() {
		t.Error("non-matching name should still fail")
	}
}

func TestValidateMissingFields(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"entity","name":"","entityType":"note","observations":[]}`,
		`{"type":"entity","name":"AIPM_A","entityType":"","observations":[]}`,
		`{"type":"relation","from":"","to":"AIPM_B","relationType":"links"}`,
		`{"type":"relation","from":"AIPM_A","to":"","relationType":"links"}`,
		`{"type":"relation","from":"AIPM_A","to":"AIPM_B","relationType":""}`,
	}, "\n")

	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report := v.ValidateReader(strings.NewReader(input), 0)

	if len(report.Errors) != 5 {
		t.Errorf("errors: got %d, want 5: %v", len(report.Errors), report.Errors)
	}
}

func TestValidateDuplicateEntities(t *testing.T) {
	input := entityLine("AIPM_A") + "\n" + entityLine("AIPM_A") + "\n"

	// Tolerant by default.
	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report := v.ValidateReader(strings.NewReader(input), 0)
	if !report.IsValid() {
		t.Errorf("tolerant policy should accept duplicates: %v", report.Errors)
	}
	if report.EntityCount != 2 {
		t.Errorf("entity count: got %d, want 2", report.EntityCount)
	}

	// Strict flags them.
	policy := DefaultPolicy()
	policy.StrictDuplicates = true
	v = newTestValidator(t, policy, DefaultConfig())
	report = v.ValidateReader(strings.NewReader(input), 0)
	if report.IsValid() {
		t.Fatal("strict policy should flag duplicates")
	}
	if !strings.Contains(report.Errors[0].Message, "duplicate entity") {
		t.Errorf("unexpected error: %s", report.Errors[0].Message)
	}
}

func TestValidateErrorCapBoundsScan(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 11; i++ {
		sb.WriteString("malformed line\n")
	}
	for i := 0; i < 10000; i++ {
		sb.WriteString(entityLine(fmt.Sprintf("AIPM_E%d", i)))
		sb.WriteByte('\n')
	}

	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report := v.ValidateReader(strings.NewReader(sb.String()), 0)

	if !report.Truncated {
		t.Fatal("scan should truncate at the error cap")
	}
	if len(report.Errors) != 10 {
		t.Errorf("errors: got %d, want 10", len(report.Errors))
	}
	if report.EntityCount != 0 {
		t.Errorf("scan should halt before the valid tail, counted %d entities", report.EntityCount)
	}
	if !errors.Is(report.Err(), ErrTooManyErrors) {
		t.Errorf("Err should wrap ErrTooManyErrors, got %v", report.Err())
	}
}

func TestValidateSizePressureNonFatal(t *testing.T) {
	input := entityLine("AIPM_A") + "\n"

	config := DefaultConfig()
	config.SizeWarnBytes = 1

	v := newTestValidator(t, DefaultPolicy(), config)
	report := v.ValidateReader(strings.NewReader(input), 1024)

	if !report.SizePressure {
		t.Error("size pressure warning expected")
	}
	if !report.IsValid() {
		t.Errorf("size pressure must not fail validation: %v", report.Errors)
	}
}

func TestValidateFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "store.json")

	content := entityLine("AIPM_A") + "\n" + relationLine("AIPM_A", "AIPM_B", "links") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	v := newTestValidator(t, DefaultPolicy(), DefaultConfig())
	report, err := v.ValidateFile(path)
	if err != nil {
		t.Fatalf("ValidateFile failed: %v", err)
	}
	if !report.IsValid() || report.EntityCount != 1 || report.RelationCount != 1 {
		t.Errorf("report: %+v", report)
	}

	if _, err := v.ValidateFile(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("missing file should return an I/O error")
	}
}

func TestNewValidatorBadPattern(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPatterns = []string{"[unclosed"}

	if _, err := NewValidator(policy, DefaultConfig(), nil); err == nil {
		t.Error("invalid glob should fail construction")
	}
}
