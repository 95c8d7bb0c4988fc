package reconciler

import (
	"os"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/pkg/errors"
)

// fileExists reports whether path is an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeExclusive creates path with the given content. The destination must
// not exist; reconstruction must never silently overwrite a real file.
func writeExclusive(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, consts.ModeFile)
	if err != nil {
		return errors.Wrapf(err, "failed to create: %s", path)
	}

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write: %s", path)
	}
	return f.Close()
}

// renameReplace renames oldPath to newPath, deleting any pre-existing
// destination first.
func renameReplace(oldPath, newPath string) error {
	if fileExists(newPath) {
		if err := os.Remove(newPath); err != nil {
			return errors.Wrapf(err, "failed to replace: %s", newPath)
		}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", oldPath, newPath)
	}
	return nil
}

// removeFile deletes path.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "failed to delete: %s", path)
	}
	return nil
}
