package oai

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MkdirAll ensures a path exists and is a directory.
func MkdirAll(dir string) error {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it to filename. Readers see either the old or the new
// content, never a partial write.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	if err := MkdirAll(dir); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, "."+name+"-")
	if err != nil {
		return errors.Wrap(err, "temp file")
	}
	cleanup := func() {
		file.Close()
		os.Remove(file.Name())
	}
	if _, err := file.Write(data); err != nil {
		cleanup()
		return errors.Wrapf(err, "writing %s", filename)
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, "syncing %s", filename)
	}
	if err := file.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return err
	}
	return os.Rename(file.Name(), filename)
}
