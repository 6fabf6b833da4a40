// Package artifact provides the file-existence memoization discipline that
// makes the pipeline resumable: every expensive step is guarded by Ensure, so
// a re-run over a partially complete working directory skips whatever was
// already produced and converges to the same final artifacts as an
// uninterrupted run.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
)

// A Producer creates the artifact it was registered for. On success it must
// leave a file at exactly the path passed to Ensure.
type Producer func() error

// Store is rooted at a run's working directory. The working directory is
// exclusive to one run; the Store never deletes anything except through
// Tidy.
type Store struct {
	Root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	return &Store{Root: root}, nil
}

// Path joins elem onto the store root.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Root}, elem...)...)
}

// Has reports whether the artifact already exists.
func (s *Store) Has(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Ensure is the memoization guard: if path exists the producer is skipped
// entirely; otherwise the producer runs and must leave a file at path. A
// producer that returns nil without creating path is a contract violation
// and is reported as an error rather than silently cached as a miss forever.
func (s *Store) Ensure(path string, producer Producer) error {
	if s.Has(path) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pfx.Err(err)
	}

	if err := producer(); err != nil {
		return err
	}

	if !s.Has(path) {
		return pfx.Err(fmt.Errorf("producer for %s completed without creating it", path))
	}

	return nil
}

// EnsureAll applies Ensure over a producer that creates several artifacts in
// one external invocation. The producer runs unless every path exists.
func (s *Store) EnsureAll(paths []string, producer Producer) error {
	missing := false
	for _, p := range paths {
		if !s.Has(p) {
			missing = true
			break
		}
	}

	if !missing {
		return nil
	}

	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return pfx.Err(err)
		}
	}

	if err := producer(); err != nil {
		return err
	}

	for _, p := range paths {
		if !s.Has(p) {
			return pfx.Err(fmt.Errorf("producer for %s completed without creating it", p))
		}
	}

	return nil
}

// Publish writes an artifact atomically: the write callback receives a
// temporary file in the same directory as path, and the temporary file is
// renamed onto path only after the callback and a sync both succeed. A crash
// mid-write therefore never leaves a partial file that a later run would
// mistake for a cache hit.
func Publish(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pfx.Err(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".partial*")
	if err != nil {
		return pfx.Err(err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return pfx.Err(err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pfx.Err(err)
	}

	if err := tmp.Close(); err != nil {
		return pfx.Err(err)
	}

	return pfx.Err(os.Rename(tmp.Name(), path))
}

// Tidy removes the store's working tree. Used on success with -tidy, and by
// the signal cleanup handler unless -debug preserves the tree.
func (s *Store) Tidy() error {
	return pfx.Err(os.RemoveAll(s.Root))
}
