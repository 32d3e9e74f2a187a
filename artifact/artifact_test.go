package artifact

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestWriteJSONReplaces(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs)

	if err := s.WriteJSON("/data/out.json", map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if err := s.WriteJSON("/data/out.json", map[string]int{"b": 2}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}

	data, err := afero.ReadFile(fs, "/data/out.json")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if got := string(data); got != "{\n \"b\": 2\n}" {
		t.Errorf("content = %q", got)
	}

	var back map[string]int
	if err := s.ReadJSON("/data/out.json", &back); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if back["b"] != 2 || len(back) != 1 {
		t.Errorf("ReadJSON() = %v", back)
	}

	entries, _ := afero.ReadDir(fs, "/data")
	if len(entries) != 1 {
		t.Errorf("expected only the artifact in /data, found %d entries", len(entries))
	}
}

// renameFailFs fails every rename, as a full or read-only disk would
type renameFailFs struct {
	afero.Fs
}

func (f renameFailFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("disk full")}
}

func TestWriteJSONFailureKeepsPrevious(t *testing.T) {
	base := afero.NewMemMapFs()
	afero.WriteFile(base, "/data/out.json", []byte(`{"good": true}`), 0644)

	s := NewStore(renameFailFs{Fs: base})
	err := s.WriteJSON("/data/out.json", map[string]bool{"good": false})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("WriteJSON() error = %v, want rename failure", err)
	}

	data, _ := afero.ReadFile(base, "/data/out.json")
	if string(data) != `{"good": true}` {
		t.Errorf("previous artifact changed: %s", data)
	}
	entries, _ := afero.ReadDir(base, "/data")
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

func TestWriteJSONMarshalError(t *testing.T) {
	s := NewStore(afero.NewMemMapFs())
	if err := s.WriteJSON("/out.json", map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("WriteJSON() should fail for unsupported values")
	}
	if ok, _ := afero.Exists(s.Fs(), "/out.json"); ok {
		t.Error("nothing should be written when marshaling fails")
	}
}

func TestReadJSONErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/bad.json", []byte("{"), 0644)
	s := NewStore(fs)

	var v map[string]any
	if err := s.ReadJSON("/missing.json", &v); err == nil {
		t.Error("ReadJSON() of a missing file should fail")
	}
	if err := s.ReadJSON("/bad.json", &v); err == nil {
		t.Error("ReadJSON() of malformed JSON should fail")
	}
}
