package plugin

import (
	"errors"
	"fmt"
)

// Errors returned by the plugin registry, lifecycle manager and profile
// manager. Callers compare with errors.Is.
var (
	ErrMissingIdentifier      = errors.New("plugin descriptor has no identifier")
	ErrDuplicateOrBlacklisted = errors.New("plugin skipped")
	ErrDuplicate              = fmt.Errorf("duplicate plugin identifier: %w", ErrDuplicateOrBlacklisted)
	ErrBlacklisted            = fmt.Errorf("plugin is blacklisted: %w", ErrDuplicateOrBlacklisted)
	ErrDependencyMissing      = errors.New("required dependency missing")
	ErrNotInitialized         = errors.New("plugin initialization failed")
	ErrDirectoryNotFound      = errors.New("directory not found")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrKeymapWriteFailed      = errors.New("default keymap could not be written")
	ErrUnknownProfileClass    = errors.New("no STB API plugin registered for profile class")
	ErrProfileActive          = errors.New("profile is active")
)
