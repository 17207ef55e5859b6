package registry

import (
	"errors"
	"fmt"
)

var (
	ErrCorruptStore       = errors.New("registry is corrupt")
	ErrUnsupportedVersion = errors.New("unsupported registry schema version")
	ErrDuplicateName      = errors.New("remote name already exists")
	ErrRemoteNotFound     = errors.New("remote not found")
	ErrRegistryWrite      = errors.New("registry write failed")
)

// VersionError is returned by Load when the registry was written by a newer build.
type VersionError struct {
	Path      string
	Found     int
	Supported int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("registry %q has schema version %d, but this build of syncr supports up to %d. "+
		"Please upgrade syncr.", e.Path, e.Found, e.Supported)
}

func (e *VersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptStore, fmt.Sprintf(format, args...))
}
