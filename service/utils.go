package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// NewStringSet creates a set with the given elements
func NewStringSet(elems ...string) StringSet {
	ss := StringSet{}
	for _, s := range elems {
		ss.Push(s)
	}
	return ss
}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Pop removes the string from the set
func (ss StringSet) Pop(s string) {
	delete(ss, s)
}

// Slice returns a sorted slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	sort.Strings(sl)
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// HasFiles returns true if the directory or one of its subdirectories contains at least one file.
// A non-existing directory has no files.
func HasFiles(dir string) (bool, error) {
	found := errors.New("found")
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return found
		}
		return nil
	})
	switch {
	case err == found:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("HasFiles: %w", err)
	}
	return false, nil
}

// FindFiles returns the files under root whose base name matches the glob pattern
func FindFiles(root, pattern string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if ok {
			files = append(files, path)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("FindFiles[%s]: %w", root, err)
	}
	return files, nil
}

// RemoveWithSuffix recursively removes files and directories under root whose name ends with suffix.
// It returns the removed paths.
func RemoveWithSuffix(root, suffix string) ([]string, error) {
	var toRemove []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasSuffix(d.Name(), suffix) {
			toRemove = append(toRemove, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	var removed []string
	for _, path := range toRemove {
		if e := os.RemoveAll(path); e != nil {
			err = MergeErrors(true, err, e)
			continue
		}
		removed = append(removed, path)
	}
	return removed, err
}
