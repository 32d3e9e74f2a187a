package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/gebederry/cyclesync/spawn"
)

const testConfig = `
timezone: UTC
endpoint:
  url: %s
spawn:
  occurrence_table: /data/table.json
  output_path: /out/spawn.json
history:
  output_path: /out/cycles.json
storage:
  driver: memory
`

const testDocument = `{
  "updated": 1762473600,
  "cycles": [
    {"startTime": 100, "cycle": 3},
    {"startTime": 200, "cycle": 4}
  ],
  "next_cycle_times": {
    "jewelry": {"cycle_1": 150, "cycle_2": 260, "cycle_3": 400}
  }
}`

func newTestFs(t *testing.T, endpoint string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/etc/cyclesync.yaml": fmt.Sprintf(testConfig, endpoint),
		"/data/table.json":    `{"ring": [1, 3], "watch": [2], "coin": []}`,
		"/data/cycles.json":   testDocument,
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile(%s) error: %v", path, err)
		}
	}
	return fs
}

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(fs, "test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", "/etc/cyclesync.yaml"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	fs := newTestFs(t, "https://example.invalid/cycles/")

	out, err := execute(t, fs, "resolve", "--document", "/data/cycles.json")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	var got spawn.StaticSpawnTimestamps
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}

	// Anchor is cycles[1].startTime = 200
	if got.Items["ring"] == nil || *got.Items["ring"] != 150 {
		t.Errorf("ring = %v, want 150", got.Items["ring"])
	}
	if got.Items["watch"] == nil || *got.Items["watch"] != 260 {
		t.Errorf("watch = %v, want 260", got.Items["watch"])
	}
	if v, ok := got.Items["coin"]; !ok || v != nil {
		t.Errorf("coin = %v (present=%t), want null", v, ok)
	}
}

func TestResolveCommandExplicitAnchor(t *testing.T) {
	fs := newTestFs(t, "https://example.invalid/cycles/")

	_, err := execute(t, fs, "resolve", "--document", "/data/cycles.json", "--anchor", "390", "--output", "/out/resolved.json")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	data, err := afero.ReadFile(fs, "/out/resolved.json")
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	var got spawn.StaticSpawnTimestamps
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid output: %v", err)
	}
	if got.Items["ring"] == nil || *got.Items["ring"] != 400 {
		t.Errorf("ring = %v, want 400", got.Items["ring"])
	}
}

func TestResolveCommandRequiresDocument(t *testing.T) {
	fs := newTestFs(t, "https://example.invalid/cycles/")

	if _, err := execute(t, fs, "resolve"); err == nil {
		t.Error("resolve without --document should fail")
	}
}

func TestAppendCommand(t *testing.T) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"updated": 1, "cycles": [{"startTime": %d, "cycle": 2}], "next_cycle_times": {}}`, today.Unix())
	}))
	defer srv.Close()

	fs := newTestFs(t, srv.URL)
	afero.WriteFile(fs, "/out/cycles.json", []byte(`[]`), 0644)

	if _, err := execute(t, fs, "append"); err != nil {
		t.Fatalf("append error: %v", err)
	}

	data, err := afero.ReadFile(fs, "/out/cycles.json")
	if err != nil {
		t.Fatalf("history not readable: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("invalid history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("history has %d records, want 1", len(records))
	}
	if records[0]["date"] != today.Format("2006-01-02") {
		t.Errorf("date = %v, want %s", records[0]["date"], today.Format("2006-01-02"))
	}
}

func TestRunsCommandListsJobs(t *testing.T) {
	fs := newTestFs(t, "https://example.invalid/cycles/")

	out, err := execute(t, fs, "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "LAST RUN") {
		t.Errorf("runs output missing header:\n%s", out)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	fs := newTestFs(t, "not a url")

	if _, err := execute(t, fs, "runs"); err == nil {
		t.Error("invalid endpoint url should fail config validation")
	}
}
