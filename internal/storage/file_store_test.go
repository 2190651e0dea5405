package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileGroupStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.snap")

	store, err := OpenFileGroupStore(path, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Update("g1", []byte("blob-1")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Update("g1", []byte("blob-1b")); err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := OpenFileGroupStore(path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	records, err := reopened.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 || records[0].ID != "g1" || !bytes.Equal(records[0].Blob, []byte("blob-1b")) {
		t.Fatalf("snapshot did not survive a reopen: %v", records)
	}
}

func TestFileGroupStoreMissingFileIsEmpty(t *testing.T) {
	store, err := OpenFileGroupStore(filepath.Join(t.TempDir(), "never-written.snap"), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	records, err := store.LoadAll()
	if err != nil || len(records) != 0 {
		t.Fatalf("missing file should mean an empty store, got %v err=%v", records, err)
	}
}

func TestFileGroupStoreSealedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.snap")

	store, err := OpenFileGroupStore(path, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Update("g1", []byte("secret blob")); err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := OpenFileGroupStore(path, "hunter2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	records, err := reopened.LoadAll()
	if err != nil || len(records) != 1 || !bytes.Equal(records[0].Blob, []byte("secret blob")) {
		t.Fatalf("sealed round trip failed: %v err=%v", records, err)
	}

	if _, err := OpenFileGroupStore(path, "wrong"); err == nil {
		t.Fatal("wrong passphrase must refuse to open the snapshot")
	}
}
