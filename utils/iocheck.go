package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CheckFile makes sure path is a regular file we can open.
func CheckFile(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("file does not exist: %s", path)
	case err != nil:
		return fmt.Errorf("could not access %s: %w", path, err)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	return f.Close()
}

// CheckOutputDir creates path when missing and verifies it is writable.
func CheckOutputDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("could not create output directory %s: %w", path, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not access output directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", path)
	}

	// 写一个探针文件确认可写
	probe, err := os.CreateTemp(path, ".probe-")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", path, err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
