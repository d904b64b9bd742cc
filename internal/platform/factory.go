package platform

import (
	"fmt"
	"sync"
)

// The process holds exactly one adapter: its store owns exclusive
// access to the data directory, so a second instance would contend for
// the same files.
var (
	currentMutex sync.Mutex
	current      *Adapter
)

// Get returns the process-wide adapter, creating it on first call by
// detecting the profile and invoking its registered constructor.
// Subsequent calls return the same adapter regardless of opts.
func Get(opts Options) (*Adapter, error) {
	currentMutex.Lock()
	defer currentMutex.Unlock()

	if current != nil {
		return current, nil
	}

	profile, err := Detect()
	if err != nil {
		return nil, err
	}

	a, err := create(profile, opts)
	if err != nil {
		return nil, err
	}
	current = a
	return a, nil
}

// GetForProfile is Get with detection bypassed. Used when the profile
// comes from configuration rather than the environment.
func GetForProfile(profile Profile, opts Options) (*Adapter, error) {
	currentMutex.Lock()
	defer currentMutex.Unlock()

	if current != nil {
		return current, nil
	}

	if !profile.Valid() {
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownProfile, profile, Profiles)
	}

	a, err := create(profile, opts)
	if err != nil {
		return nil, err
	}
	current = a
	return a, nil
}

func create(profile Profile, opts Options) (*Adapter, error) {
	constructor := getConstructor(profile)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrNotRegistered, profile, RegisteredProfiles())
	}

	a, err := constructor(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s adapter: %w", profile, err)
	}
	return a, nil
}

// Reset closes and forgets the process-wide adapter so the next Get
// builds a fresh one. Primarily useful for tests, where the data
// directory changes between cases.
func Reset() error {
	currentMutex.Lock()
	defer currentMutex.Unlock()

	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	return err
}
