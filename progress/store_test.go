package progress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "song_progress.txt"))
	records, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Load() = %+v, want no records", records)
	}
}

func TestStoreAppendAndFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song_progress.txt")
	store := NewStore(path)

	steps := []func() error{
		func() error { return store.Append("rock", TitleEntry{Title: "Song A", URL: "https://x/a"}) },
		func() error { return store.Append("rock", TitleEntry{Title: "Song B"}) },
		func() error { return store.FinalizeGenre("rock") },
		func() error { return store.FinalizeGenre("jazz") },
		func() error { return store.Append("metal", TitleEntry{Title: "Numb"}) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "GENRE=rock\nSong A->https://x/a\nSong B\n----\nGENRE=jazz\n----\nGENRE=metal\nNumb\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	records, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(records) != 3 || records[2].Sealed {
		t.Fatalf("Load() = %+v, want 3 records with metal unsealed", records)
	}
	if !records[0].Sealed || !records[1].Sealed {
		t.Errorf("terminated blocks should load sealed: %+v", records)
	}
}

func TestStoreAppendRejectsInterleavedGenres(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "song_progress.txt"))
	if err := store.Append("rock", TitleEntry{Title: "A"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append("metal", TitleEntry{Title: "B"}); err == nil {
		t.Error("Append() to a second genre while rock is open should fail")
	}
	if err := store.FinalizeGenre("metal"); err == nil {
		t.Error("FinalizeGenre() of another genre while rock is open should fail")
	}
}

func TestStoreSaveReplacesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song_progress.txt")
	store := NewStore(path)

	if err := store.Append("rock", TitleEntry{Title: "stale"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records := []GenreRecord{
		{Genre: "rock", Entries: []TitleEntry{{Title: "Song A", URL: "https://x/a"}, {Title: "Song B"}}, Sealed: true},
	}
	if err := store.Save(records); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !sameRecords(got, records) {
		t.Errorf("Load() = %+v, want %+v", got, records)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	// Save closes any open block, so appending a new genre works again.
	if err := store.Append("metal", TitleEntry{Title: "Numb"}); err != nil {
		t.Errorf("Append after Save: %v", err)
	}
}

func TestStoreLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "song_progress.txt")
	first := NewStore(path)
	second := NewStore(path)

	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer first.Unlock()

	if err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock() = %v, want ErrLocked", err)
	}
}
