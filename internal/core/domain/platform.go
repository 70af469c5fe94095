package domain

import (
	"runtime"
)

// Platform identifies a target platform in channel subdir notation, e.g.
// "linux-64", "osx-arm64", "win-64". The pseudo-platform "noarch" holds
// platform-independent records.
type Platform string

const (
	PlatformLinux64    Platform = "linux-64"
	PlatformLinuxArm64 Platform = "linux-aarch64"
	PlatformOsx64      Platform = "osx-64"
	PlatformOsxArm64   Platform = "osx-arm64"
	PlatformWin64      Platform = "win-64"
	PlatformNoarch     Platform = "noarch"
)

// CurrentPlatform maps the running host to its platform identifier.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return PlatformOsxArm64
		}
		return PlatformOsx64
	case "windows":
		return PlatformWin64
	default:
		if runtime.GOARCH == "arm64" {
			return PlatformLinuxArm64
		}
		return PlatformLinux64
	}
}

// String returns the subdir notation.
func (p Platform) String() string { return string(p) }
