package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/checker"
	"github.com/MrCodeEU/facecheck/pkg/match"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"Success", nil, exitOK},
		{"NotPresent", errNotPresent, exitFailure},
		{"Interrupted", fmt.Errorf("run: %w", context.Canceled), exitInterrupt},
		{"UnknownOrganization", fmt.Errorf("load: %w", attendance.ErrUnknownOrganization), exitBadInput},
		{"PersonNotFound", attendance.ErrPersonNotFound, exitBadInput},
		{"EmptyGallery", attendance.ErrEmptyGallery, exitBadInput},
		{"NoPeople", attendance.ErrNoPeople, exitBadInput},
		{"InvalidOrganization", storage.ErrInvalidOrganization, exitBadInput},
		{"StorageAccess", fmt.Errorf("%w: disk full", storage.ErrStorageAccess), exitSystem},
		{"Encryption", storage.ErrEncryption, exitSystem},
		{"ModelNotLoaded", recognition.ErrModelNotLoaded, exitSystem},
		{"InvalidThresholds", fmt.Errorf("invalid configuration: %w", match.ErrInvalidThresholds), exitSystem},
		{"GenericError", errors.New("some random error"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := exitCode(tt.err); code != tt.expected {
				t.Errorf("exitCode() = %d, want %d", code, tt.expected)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("postgres://user:secret@db:5432/facecheck?sslmode=disable")
	if strings.Contains(got, "secret") {
		t.Errorf("password not redacted: %s", got)
	}
	if !strings.Contains(got, "db:5432") {
		t.Errorf("host missing: %s", got)
	}
}

func TestPrintCheck(t *testing.T) {
	p := attendance.PersonAttendanceResult{
		PersonID:    "1",
		DisplayName: "Alice Adams",
		IsPresent:   true,
		Report: &match.Report{
			PersonID: "1",
			Evaluations: []match.Evaluation{
				{
					GalleryEntryID: "cam1",
					Sample:         match.ScoreSample{PrimaryScore: 0.9, SecondaryScore: 0.8, CompositeScore: 0.85, Classification: match.Definite},
					Geometry:       &match.GeometryVerdict{Status: match.GeometryMatch, Similarity: 0.93},
					Accepted:       true,
					AcceptedBy:     match.AcceptedByCascade,
				},
				{
					GalleryEntryID: "cam2",
					Sample:         match.ScoreSample{PrimaryScore: 0.5, SecondaryScore: 0.45, CompositeScore: 0.47, Classification: match.GrayZone},
					Enhanced:       &match.EnhancedResult{Composite: 0.61, Accepted: true},
					Geometry:       &match.GeometryVerdict{Status: match.GeometryNoMatch, Similarity: 0.5},
					Vetoed:         true,
				},
				{
					GalleryEntryID: "cam3",
					Sample:         match.ScoreSample{PrimaryScore: 0.1, Classification: match.Rejected},
				},
			},
		},
	}

	var buf bytes.Buffer
	printCheck(&buf, p)
	out := buf.String()

	for _, want := range []string{
		"Alice Adams: PRESENT",
		"accepted (cascade)",
		"match (0.930)",
		"no_match (0.500)",
		"0.610",
		"vetoed",
		"rejected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRunResult(t *testing.T) {
	r := &attendance.RunResult{
		RunID: "r1",
		OrgID: "acme",
		Summary: attendance.RunSummary{
			Checked: 2, Present: 1, Absent: 1, AttendanceRate: 50,
			UnidentifiedGalleryIDs: []string{"stranger"},
		},
		People: []attendance.PersonAttendanceResult{
			{PersonID: "1", DisplayName: "Alice Adams", IsPresent: true,
				AcceptedMatches: []match.MatchOutcome{{GalleryEntryID: "cam1"}}},
			{PersonID: "2", DisplayName: "Bob Brown", Error: "no reference image"},
		},
	}

	var buf bytes.Buffer
	printRunResult(&buf, r)
	out := buf.String()

	for _, want := range []string{"50.00%", "present  Alice Adams [cam1]", "absent   Bob Brown (error: no reference image)", "Unidentified gallery faces: stranger"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// writeConfig writes a file-backend configuration rooted at a temp dir.
func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FACECHECK_DATA_DIR", "")
	t.Setenv("FACECHECK_WORKERS", "")

	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "facecheck.yaml")
	content := fmt.Sprintf(`storage:
  backend: file
  data_dir: %s
  encryption_enabled: false
recognition:
  model_path: %s
logging:
  level: error
`, dataDir, filepath.Join(dir, "models"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path, dataDir
}

func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	code := execute(context.Background())
	return out.String(), code
}

func TestReportCommand(t *testing.T) {
	path, dataDir := writeConfig(t)

	err := storage.NewRoster(dataDir).SavePeople(context.Background(), "acme", []attendance.Person{
		{ID: "1", FirstName: "Alice", LastName: "Adams", ImageRefs: []string{"alice.png"}},
		{ID: "2", FirstName: "Bob", LastName: "Brown", ImageRefs: []string{"bob.png"}},
	})
	if err != nil {
		t.Fatalf("SavePeople failed: %v", err)
	}

	out, code := runCLI(t, "--config", path, "report", "acme", "--json")
	if code != exitOK {
		t.Fatalf("exit code = %d, output: %s", code, out)
	}

	var report checker.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if report.OrgID != "acme" || len(report.People) != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Checked != 0 || report.LastRun != nil {
		t.Errorf("expected an unchecked organization, got %+v", report)
	}
}

func TestReportCommand_UnknownOrganization(t *testing.T) {
	path, _ := writeConfig(t)

	_, code := runCLI(t, "--config", path, "report", "nobody", "--json=false")
	if code != exitBadInput {
		t.Errorf("exit code = %d, want %d", code, exitBadInput)
	}
}

func TestImportRosterCommand(t *testing.T) {
	path, dataDir := writeConfig(t)

	rosterPath := filepath.Join(t.TempDir(), "people.yaml")
	content := "people:\n  - id: \"1\"\n    first_name: Alice\n    last_name: Adams\n  - id: \"2\"\n    first_name: Bob\n    last_name: Brown\n"
	if err := os.WriteFile(rosterPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, code := runCLI(t, "--config", path, "import-roster", "acme", rosterPath)
	if code != exitOK {
		t.Fatalf("exit code = %d, output: %s", code, out)
	}
	if !strings.Contains(out, "Imported 2 people into acme") {
		t.Errorf("unexpected output: %q", out)
	}

	people, err := storage.NewRoster(dataDir).People(context.Background(), "acme")
	if err != nil {
		t.Fatalf("People failed: %v", err)
	}
	if len(people) != 2 || people[1].FullName() != "Bob Brown" {
		t.Errorf("roster not imported: %+v", people)
	}

	out, code = runCLI(t, "--config", path, "orgs", "--json")
	if code != exitOK {
		t.Fatalf("orgs exit code = %d, output: %s", code, out)
	}
	var orgs []string
	if err := json.Unmarshal([]byte(out), &orgs); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(orgs) != 1 || orgs[0] != "acme" {
		t.Errorf("unexpected organizations: %v", orgs)
	}

	out, code = runCLI(t, "--config", path, "orgs", "--json=false")
	if code != exitOK || out != "acme\n" {
		t.Errorf("orgs text output = %q (exit %d)", out, code)
	}
}

func TestImportRosterCommand_Errors(t *testing.T) {
	path, _ := writeConfig(t)

	rosterPath := filepath.Join(t.TempDir(), "people.yaml")
	if err := os.WriteFile(rosterPath, []byte("people:\n  - id: \"1\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, code := runCLI(t, "--config", path, "import-roster", "..", rosterPath); code != exitBadInput {
		t.Errorf("invalid organization exit code = %d, want %d", code, exitBadInput)
	}
	if _, code := runCLI(t, "--config", path, "import-roster", "acme", rosterPath+".missing"); code != exitFailure {
		t.Errorf("missing file exit code = %d, want %d", code, exitFailure)
	}
}

func TestWithOrgHint(t *testing.T) {
	path, dataDir := writeConfig(t)
	if _, code := runCLI(t, "--config", path, "version"); code != exitOK {
		t.Fatalf("version exit code = %d", code)
	}

	err := withOrgHint(attendance.ErrUnknownOrganization, "acme")
	if !errors.Is(err, attendance.ErrUnknownOrganization) {
		t.Errorf("hint lost the sentinel: %v", err)
	}
	if !strings.Contains(err.Error(), filepath.Join(dataDir, "orgs", "acme")) {
		t.Errorf("hint missing the directory: %v", err)
	}

	other := errors.New("boom")
	if got := withOrgHint(other, "acme"); got != other {
		t.Errorf("other errors must pass through, got %v", got)
	}
}

func TestVersionCommand(t *testing.T) {
	path, _ := writeConfig(t)
	out, code := runCLI(t, "--config", path, "version")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(out, "facecheck "+Version) {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestConfigCommand(t *testing.T) {
	path, dataDir := writeConfig(t)
	out, code := runCLI(t, "--config", path, "config")
	if code != exitOK {
		t.Fatalf("exit code = %d, output: %s", code, out)
	}
	for _, want := range []string{"Data Dir:        " + dataDir, "Backend:         file", "dlib-cnn-cosine-raw:", "negative abs_scaled"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDownloadModels_SkipsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for %s", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	for _, name := range models {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("model"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := downloadModels(context.Background(), srv.Client(), srv.URL+"/", dir, false); err != nil {
		t.Fatalf("downloadModels failed: %v", err)
	}
}

func TestDownloadModels_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	err := downloadModels(context.Background(), srv.Client(), srv.URL+"/", dir, false)
	if err == nil || !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("expected bad status error, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files after a failed download, got %d", len(entries))
	}
}
