package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureSkipsExisting(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path := store.Path("a.txt")
	if err := os.WriteFile(path, []byte("precomputed"), 0o644); err != nil {
		t.Fatal(err)
	}

	ran := false
	if err := store.Ensure(path, func() error {
		ran = true
		return os.WriteFile(path, []byte("recomputed"), 0o644)
	}); err != nil {
		t.Fatal(err)
	}

	if ran {
		t.Fatalf("producer ran despite %s existing", path)
	}

	bts, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(bts) != "precomputed" {
		t.Fatalf("cache hit modified the artifact: %q", bts)
	}
}

func TestEnsureRunsProducerOnMiss(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path := store.Path("deep", "nested", "b.txt")
	if err := store.Ensure(path, func() error {
		return os.WriteFile(path, []byte("fresh"), 0o644)
	}); err != nil {
		t.Fatal(err)
	}

	if !store.Has(path) {
		t.Fatalf("expected %s to exist after Ensure", path)
	}
}

func TestEnsureDetectsProducerContractViolation(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	err = store.Ensure(store.Path("never-written.txt"), func() error { return nil })
	if err == nil {
		t.Fatal("expected error from producer that wrote nothing")
	}
}

func TestEnsurePropagatesProducerError(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("registration failed")
	err = store.Ensure(store.Path("c.txt"), func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	paths := []string{store.Path("x.txt"), store.Path("y.txt")}

	calls := 0
	producer := func() error {
		calls++
		for _, p := range paths {
			if err := os.WriteFile(p, []byte("v"), 0o644); err != nil {
				return err
			}
		}
		return nil
	}

	if err := store.EnsureAll(paths, producer); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureAll(paths, producer); err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one producer call, got %d", calls)
	}

	// One missing member re-triggers the whole group
	if err := os.Remove(paths[1]); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureAll(paths, producer); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected a second producer call after partial removal, got %d", calls)
	}
}

func TestPublishIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.txt")

	// A failing write must not leave anything at path
	err := Publish(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errors.New("interrupted")
	})
	if err == nil {
		t.Fatal("expected write error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("failed Publish left a file at %s", path)
	}

	if err := Publish(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "complete")
		return err
	}); err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(bts) != "complete" {
		t.Fatalf("unexpected content %q", bts)
	}

	// No leftover temporaries
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the published file in %s, found %d entries", dir, len(entries))
	}
}

func TestCheckPrereqs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	present := store.Path("present.txt")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.CheckPrereqs("multireg", present); err != nil {
		t.Fatal(err)
	}

	absent := store.Path("absent.txt")
	err = store.CheckPrereqs("multireg", present, absent)

	var missing *MissingPrereq
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingPrereq, got %v", err)
	}
	if missing.Stage != "multireg" || len(missing.Paths) != 1 || missing.Paths[0] != absent {
		t.Fatalf("unexpected MissingPrereq: %+v", missing)
	}
	if !strings.Contains(missing.Error(), "absent.txt") {
		t.Fatalf("error should name the missing artifact: %s", missing.Error())
	}
}
