// Package filestore persists sync states as files: one payload file and one
// metadata sidecar per ref, laid out as
// <root>/<account type>/<account name>/<authority>.state(.meta.json).
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-syncstate"
)

const (
	dataSuffix = ".state"
	metaSuffix = ".state.meta.json"
	tempPrefix = ".tmp-"

	dirPerm  fs.FileMode = 0o755
	filePerm fs.FileMode = 0o644
)

// Store is a syncstate.Store rooted at a directory. Writes are atomic per
// file; ETag checks are serialized within one process only.
type Store struct {
	root string
	mu   sync.Mutex
}

var (
	_ syncstate.Store  = (*Store)(nil)
	_ syncstate.Lister = (*Store)(nil)
)

// New creates root when needed and returns a store writing below it.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filestore: root directory is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	return &Store{root: filepath.Clean(root)}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Load(_ context.Context, ref syncstate.Ref) ([]byte, syncstate.Meta, bool, error) {
	base, err := s.basePath(ref)
	if err != nil {
		return nil, syncstate.Meta{}, false, err
	}
	data, err := os.ReadFile(base + dataSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, syncstate.Meta{}, false, nil
		}
		return nil, syncstate.Meta{}, false, fmt.Errorf("filestore: read %s: %w", ref, err)
	}
	meta, err := readMeta(base + metaSuffix)
	if err != nil {
		return nil, syncstate.Meta{}, false, fmt.Errorf("filestore: read meta %s: %w", ref, err)
	}
	return data, meta, true, nil
}

func (s *Store) Save(_ context.Context, ref syncstate.Ref, data []byte, meta syncstate.Meta) (syncstate.Meta, error) {
	base, err := s.basePath(ref)
	if err != nil {
		return syncstate.Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists, err := s.current(base)
	if err != nil {
		return syncstate.Meta{}, fmt.Errorf("filestore: read meta %s: %w", ref, err)
	}
	next, err := syncstate.PrepareSave(current, exists, meta)
	if err != nil {
		return syncstate.Meta{}, err
	}
	encodedMeta, err := json.Marshal(next)
	if err != nil {
		return syncstate.Meta{}, fmt.Errorf("filestore: encode meta %s: %w", ref, err)
	}
	if err := writeAtomic(base+dataSuffix, data); err != nil {
		return syncstate.Meta{}, fmt.Errorf("filestore: write %s: %w", ref, err)
	}
	if err := writeAtomic(base+metaSuffix, encodedMeta); err != nil {
		return syncstate.Meta{}, fmt.Errorf("filestore: write meta %s: %w", ref, err)
	}
	return next, nil
}

func (s *Store) Delete(_ context.Context, ref syncstate.Ref) error {
	base, err := s.basePath(ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{base + dataSuffix, base + metaSuffix} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("filestore: delete %s: %w", ref, err)
		}
	}
	// Prune empty account directories.
	dir := filepath.Dir(base)
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// List walks the root and returns every ref with a payload file, ordered by
// identifier.
func (s *Store) List(_ context.Context) ([]syncstate.Ref, error) {
	var identifiers []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), dataSuffix) || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		identifiers = append(identifiers, strings.TrimSuffix(filepath.ToSlash(rel), dataSuffix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: list: %w", err)
	}
	sort.Strings(identifiers)

	refs := make([]syncstate.Ref, 0, len(identifiers))
	for _, identifier := range identifiers {
		ref, err := syncstate.ParseIdentifier(identifier)
		if err != nil {
			// Files that were not written by this store.
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Store) basePath(ref syncstate.Ref) (string, error) {
	identifier, err := ref.Identifier()
	if err != nil {
		return "", err
	}
	segments := strings.Split(identifier, "/")
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: segment %q is not a valid file name", syncstate.ErrInvalidRef, segment)
		}
	}
	return filepath.Join(append([]string{s.root}, segments...)...), nil
}

func (s *Store) current(base string) (syncstate.Meta, bool, error) {
	if _, err := os.Stat(base + dataSuffix); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return syncstate.Meta{}, false, nil
		}
		return syncstate.Meta{}, false, err
	}
	meta, err := readMeta(base + metaSuffix)
	if err != nil {
		return syncstate.Meta{}, false, err
	}
	return meta, true, nil
}

func readMeta(path string) (syncstate.Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return syncstate.Meta{}, nil
		}
		return syncstate.Meta{}, err
	}
	var meta syncstate.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return syncstate.Meta{}, err
	}
	return meta, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
