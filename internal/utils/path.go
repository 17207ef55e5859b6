package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// ResolvePath expands `~`, makes the path absolute and cleans it.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand home directory: %w", err)
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

// CanonicalDir resolves path like ResolvePath and then evaluates symlinks, so the
// same directory always yields the same registry key. The directory must exist.
func CanonicalDir(path string) (string, error) {
	absPath, err := ResolvePath(path)
	if err != nil {
		return "", err
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", err
	}

	if !DirExists(realPath) {
		return "", fmt.Errorf("%s is not a directory", realPath)
	}

	return realPath, nil
}

func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	return EnsureDir(dir)
}

func EnsureDir(path string) error {
	// already exists
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// PathExists reports whether anything (file, directory or other) exists at path.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
