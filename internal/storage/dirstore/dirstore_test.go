package dirstore

import (
	"errors"
	"testing"
)

type meta struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type line struct {
	Seq int `json:"seq"`
}

func TestMetaRoundTrip(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "widget")

	if err := ds.EnsureDir("w1"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := ds.WriteMeta("w1", meta{Name: "first", Count: 2}); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	var got meta
	if err := ds.ReadMeta("w1", &got); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Name != "first" || got.Count != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestReadMetaMissing(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "widget")

	var got meta
	err := ds.ReadMeta("nope", &got)
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestJSONLAppendLoad(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "widget")

	if err := ds.EnsureDir("w1"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := ds.AppendJSONL("w1", "log.jsonl", line{Seq: i}); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	lines, err := LoadJSONL[line](ds, "w1", "log.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, l := range lines {
		if l.Seq != i+1 {
			t.Errorf("line %d: got seq %d", i, l.Seq)
		}
	}
}

func TestLoadJSONLMissing(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "widget")
	lines, err := LoadJSONL[line](ds, "w1", "log.jsonl")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if lines != nil {
		t.Errorf("got %v, want nil", lines)
	}
}

func TestListDirsAndRemove(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "widget")

	for _, id := range []string{"a", "b"} {
		if err := ds.EnsureDir(id); err != nil {
			t.Fatalf("EnsureDir %s: %v", id, err)
		}
	}

	dirs, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("got %d dirs, want 2", len(dirs))
	}

	if err := ds.RemoveDir("a"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	dirs, _ = ds.ListDirs()
	if len(dirs) != 1 {
		t.Errorf("after remove: got %d dirs, want 1", len(dirs))
	}
}
