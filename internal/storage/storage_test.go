package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordingStoreSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	store, err := NewRecordingStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	path, err := store.Save("session-1.wav", []byte("audio bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("saved outside store dir: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("content = %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("store dir holds %d files, want 1", len(entries))
	}

	if err := store.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file survived Remove")
	}
}

func TestRecordingStoreNeutralizesTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewRecordingStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	path, err := store.Save("../outside.wav", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("traversal escaped the store dir: %s", path)
	}
}

func TestHumanizeBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanizeBytes(tt.in); got != tt.want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
