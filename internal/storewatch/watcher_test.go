package storewatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultguard/internal/store"
)

func testSetup(t *testing.T) (string, *store.DB, *Watcher) {
	t.Helper()
	base := t.TempDir()
	db, err := store.Open(store.Config{Driver: "sqlite", Path: filepath.Join(base, "vault.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	root := filepath.Join(base, "storage")
	w, err := New(root, db, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return root, db, w
}

func storeFile(t *testing.T, root string, db *store.DB, id uuid.UUID, name string) string {
	t.Helper()
	path := filepath.Join(root, id.String(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveFile(id, name, path, true, 7, time.Now(), 0); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitUnverified(t *testing.T, db *store.DB, id uuid.UUID, name string) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := db.ListFiles(id)
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range recs {
			if rec.FileName == name && !rec.Verified {
				return true
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestRemovedFileLosesVerification(t *testing.T) {
	root, db, _ := testSetup(t)
	id := uuid.New()
	path := storeFile(t, root, db, id, "report.txt")

	// New client directories are picked up from a create event. Give the
	// watcher a beat before deleting inside one.
	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitUnverified(t, db, id, "report.txt") {
		t.Fatal("record stayed verified after file removal")
	}
}

func TestRenamedFileLosesVerification(t *testing.T) {
	root, db, _ := testSetup(t)
	id := uuid.New()
	path := storeFile(t, root, db, id, "notes.txt")

	time.Sleep(100 * time.Millisecond)
	if err := os.Rename(path, path+".moved"); err != nil {
		t.Fatal(err)
	}
	if !waitUnverified(t, db, id, "notes.txt") {
		t.Fatal("record stayed verified after rename")
	}
}

func TestForeignFileIgnored(t *testing.T) {
	root, db, _ := testSetup(t)
	id := uuid.New()
	storeFile(t, root, db, id, "keep.txt")

	stray := filepath.Join(root, "stray.tmp")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(stray); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	recs, err := db.ListFiles(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].Verified {
		t.Fatalf("unrelated removal touched records: %+v", recs)
	}
}

func TestRecordedNameWithSeparatorStillFlips(t *testing.T) {
	root, db, _ := testSetup(t)
	id := uuid.New()
	// Uploads store under the base name while the record keeps the full
	// protocol filename.
	path := filepath.Join(root, id.String(), "evil.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveFile(id, "sub/evil.txt", path, true, 7, time.Now(), 0); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitUnverified(t, db, id, "sub/evil.txt") {
		t.Fatal("record with pathy filename stayed verified after removal")
	}
}
