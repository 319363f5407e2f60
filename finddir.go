package cablehs

import (
	"os"
	"path"
)

// NearestCableDir locates the nearest directory named ".cable", starting at the
// current directory, walking up to the root. If no directory was found,
// ErrNoCableDir is returned.
func NearestCableDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for lastDir := ""; dir != lastDir; lastDir, dir = dir, path.Dir(dir) {
		filename := dir + "/.cable"
		info, err := os.Stat(filename)
		if err != nil && os.IsNotExist(err) {
			continue
		}
		if err == nil && !info.Mode().IsDir() {
			return filename, prefixError(ErrNoCableDir, "%s not a directory", filename)
		}
		return filename, err
	}
	return "", ErrNoCableDir
}
