package utils

import (
	"os"
	"path/filepath"
)

func GetCacheDir() (string, error) {
	appDir := filepath.Join(os.TempDir(), "datascan-temp")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", err
	}
	return appDir, nil
}

// StageDir 在缓存目录下建一个独立的临时目录, 调用方负责 cleanup
func StageDir(pattern string) (dir string, cleanup func(), err error) {
	base, err := GetCacheDir()
	if err != nil {
		return "", nil, err
	}
	dir, err = os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
