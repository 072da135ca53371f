package fs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Config{FS: afero.NewMemMapFs(), Strict: true})

	for _, name := range []string{"/runs/a.prov.json", "/runs/b.prov.yaml", "/runs/c.prov.json.zst"} {
		if err := store.Save(ctx, name, sampleDocument()); err != nil {
			t.Fatalf("Save(%s) failed: %v", name, err)
		}
		doc, err := store.Load(ctx, name)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
		if doc.Session != "s1" || len(doc.Executions) != 1 {
			t.Errorf("%s: unexpected document %+v", name, doc)
		}
	}

	state := store.State().(StoreState)
	if state.CacheSize != 3 || state.Loads != 3 {
		t.Errorf("unexpected state %+v", state)
	}

	if _, err := store.Load(ctx, "/runs/a.prov.json"); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if hits := store.State().(StoreState).CacheHits; hits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", hits)
	}
}

func TestStore_UnknownFormat(t *testing.T) {
	store := NewStore(Config{FS: afero.NewMemMapFs()})

	err := store.Save(context.Background(), "/runs/a.ttl", sampleDocument())
	if !errors.Is(err, core.ErrUnknownFormat) {
		t.Fatalf("Expected ErrUnknownFormat, got %v", err)
	}
	if ok, _ := afero.Exists(store.FS(), "/runs/a.ttl"); ok {
		t.Error("no file must be written for an unknown format")
	}
}

func TestStore_Glob(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := NewStore(Config{FS: fsys})

	for _, name := range []string{"/runs/2024/a.prov.json", "/runs/2025/b.prov.yaml", "/runs/2025/deep/c.prov.json"} {
		if err := store.Save(ctx, name, sampleDocument()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := afero.WriteFile(fsys, "/runs/notes.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	files, err := store.Glob("/runs/**/*.prov.*", "/runs/2024/a.prov.json")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	want := []string{
		filepath.FromSlash("/runs/2024/a.prov.json"),
		filepath.FromSlash("/runs/2025/b.prov.yaml"),
		filepath.FromSlash("/runs/2025/deep/c.prov.json"),
	}
	if len(files) != len(want) {
		t.Fatalf("Expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	names, docs, err := store.LoadAll(ctx, "/runs/2025/*.yaml")
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(names) != 1 || len(docs) != 1 {
		t.Errorf("Expected one document, got %v", names)
	}

	if _, err := store.Glob("/runs/[.json"); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}
