package jobstore

import (
	"errors"
	"io/fs"
	"os"
)

// renameCheckFirst refuses to replace an existing newpath. The window between
// Lstat and Rename is only open to writers of the destination directory,
// which for Done and Failed is this process alone.
func renameCheckFirst(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
