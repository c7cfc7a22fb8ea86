// Package store owns the local persistent state under ~/.rv: the TOML config
// and the JSON hint stores (env vars, tunnels, request history).
//
// Writes go through an atomic temp+fsync+rename path. There is no cross-
// process locking; the stores are hints, not sources of truth, and concurrent
// invocations are last-writer-wins.
package store

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// Dir returns the rv state directory, creating it 0700 if needed.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".rv")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteFileAtomic writes data to path via a temp file in the same directory,
// fsyncs, then renames into place. Mode is applied to the temp file so the
// final file never exists with looser permissions.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rv-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
