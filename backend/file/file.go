// Package file provides a Backend that keeps one JSON file per record:
//
//	<root>/<table>/<id>.json
//
// Writes go to a temporary file in the same directory, are fsynced, and are then
// linked (insert) or renamed (replace) into place, so a reader opening the final
// path sees either the old document or the complete new one.
//
// A document's version is a hash of its bytes. Replace and Delete hold a
// marker file (<root>/<table>/.lock-<id>) created with O_EXCL while they compare
// and swap, which serializes them across processes sharing the directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jacentio/roster/store"
)

const (
	ext        = ".json"
	tmpPrefix  = ".tmp-"
	lockPrefix = ".lock-"
)

var (
	// lockPoll is the wait between attempts to take a record's lock file.
	lockPoll = 2 * time.Millisecond
	// lockWait bounds how long a writer waits for a record's lock file.
	lockWait = 5 * time.Second
	// staleLock is the age after which a lock file is assumed to belong to a
	// crashed process and is removed.
	staleLock = 30 * time.Second
)

var errLocked = errors.New("record is locked")

// Backend stores documents under a root directory.
type Backend struct {
	root string
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend rooted at dir, creating the directory if needed.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", dir, err)
	}
	return &Backend{root: dir}, nil
}

// Root returns the root directory.
func (b *Backend) Root() string {
	return b.root
}

// Get reads a document and its version.
func (b *Backend) Get(_ context.Context, table, id string) ([]byte, int64, error) {
	path, err := b.path(table, id)
	if err != nil {
		return nil, 0, err
	}
	doc, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return doc, versionOf(doc), nil
}

// Insert creates a new document. A hard link is used for the final step so an
// existing file is never clobbered.
func (b *Backend) Insert(ctx context.Context, table, id string, doc []byte) error {
	path, err := b.path(table, id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp, err := writeTemp(filepath.Dir(path), doc)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("link %s: %w", path, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// Replace overwrites an existing document if its content still hashes to
// expected.
func (b *Backend) Replace(ctx context.Context, table, id string, doc []byte, expected int64) error {
	path, err := b.path(table, id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	} else if err != nil {
		return err
	}

	unlock, err := lockRecord(ctx, dir, id)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if versionOf(current) != expected {
		return store.ErrConcurrentModification
	}

	tmp, err := writeTemp(dir, doc)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// Delete removes a document if present.
func (b *Backend) Delete(ctx context.Context, table, id string) error {
	path, err := b.path(table, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	unlock, err := lockRecord(ctx, filepath.Dir(path), id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Keys lists the ids in table. Temporary and lock files are ignored.
func (b *Backend) Keys(_ context.Context, table string) ([]string, error) {
	if err := validName(table); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.root, table))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	return keys, nil
}

// path returns the document path. It does not touch the filesystem.
func (b *Backend) path(table, id string) (string, error) {
	if err := validName(table); err != nil {
		return "", err
	}
	if err := validName(id); err != nil {
		return "", err
	}
	return filepath.Join(b.root, table, id+ext), nil
}

// ensureDir creates a table directory on its first write.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table %s: %w", dir, err)
	}
	return nil
}

// versionOf hashes a document's bytes. Equal content has equal versions, which
// is all a compare-and-swap on the content needs.
func versionOf(doc []byte) int64 {
	h := fnv.New64a()
	h.Write(doc)
	return int64(h.Sum64())
}

// lockRecord takes the lock file for id in dir, polling until lockWait runs out.
// A lock file older than staleLock is removed first. The returned func releases
// the lock.
func lockRecord(ctx context.Context, dir, id string) (func(), error) {
	name := filepath.Join(dir, lockPrefix+id)

	b := retry.WithMaxDuration(lockWait, retry.NewConstant(lockPoll))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				os.Remove(name)
				return err
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		if info, statErr := os.Stat(name); statErr == nil && time.Since(info.ModTime()) > staleLock {
			os.Remove(name)
		}
		return retry.RetryableError(errLocked)
	})
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return func() { os.Remove(name) }, nil
}

// validName rejects names that would escape the table directory.
func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

func writeTemp(dir string, doc []byte) (string, error) {
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err = f.Write(doc); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err = f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// syncDir flushes directory metadata so a completed link or rename survives a crash.
// It is best effort: the document is already visible, and some filesystems
// don't support fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
