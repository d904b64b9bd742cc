package platform

import "errors"

var (
	// ErrUnknownProfile is returned when detection or configuration
	// names a profile outside the closed set.
	ErrUnknownProfile = errors.New("unknown platform profile")

	// ErrNotRegistered is returned when the detected profile has no
	// registered constructor, which means the profile package was not
	// imported into the binary.
	ErrNotRegistered = errors.New("platform profile not registered")
)
