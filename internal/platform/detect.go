package platform

import (
	"fmt"
	"os"
	"runtime"
)

// EnvProfile overrides detection when set. Accepted values are the
// profile names: native, mobile, web.
const EnvProfile = "INKWELL_PLATFORM"

// Detect identifies the profile for the current process.
//
// Detection precedence:
//  1. INKWELL_PLATFORM environment variable, when set
//  2. GOOS js or wasip1 (browser/wasm builds) selects web
//  3. GOOS android or ios selects mobile
//  4. Everything else is native
//
// Returns ErrUnknownProfile when the override names a profile outside
// the closed set; detection never guesses past a bad override.
func Detect() (Profile, error) {
	if v := os.Getenv(EnvProfile); v != "" {
		p := Profile(v)
		if !p.Valid() {
			return "", fmt.Errorf("%w: %q (valid: %v)", ErrUnknownProfile, v, Profiles)
		}
		return p, nil
	}

	switch runtime.GOOS {
	case "js", "wasip1":
		return ProfileWeb, nil
	case "android", "ios":
		return ProfileMobile, nil
	}
	return ProfileNative, nil
}
