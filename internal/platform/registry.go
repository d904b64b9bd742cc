package platform

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds an Adapter for one profile.
// Implementations register themselves with Register().
type Constructor func(opts Options) (*Adapter, error)

var (
	registry      = make(map[Profile]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a profile constructor. Called from init() in the
// profile packages (native, mobile, web).
//
// Example:
//
//	func init() {
//	    platform.Register(platform.ProfileNative, New)
//	}
func Register(p Profile, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("platform: Register constructor is nil for profile %s", p))
	}
	if _, exists := registry[p]; exists {
		panic(fmt.Sprintf("platform: Register called twice for profile %s", p))
	}
	registry[p] = constructor
}

// getConstructor retrieves the constructor for a profile.
// Returns nil if the profile is not registered.
func getConstructor(p Profile) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[p]
}

// IsRegistered reports whether a constructor exists for the profile.
func IsRegistered(p Profile) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[p]
	return exists
}

// RegisteredProfiles returns all registered profiles, sorted.
// Useful for testing and error messages.
func RegisteredProfiles() []Profile {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	profiles := make([]Profile, 0, len(registry))
	for p := range registry {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i] < profiles[j] })
	return profiles
}
