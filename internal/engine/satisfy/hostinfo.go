package satisfy

import (
	"os"
	"runtime"
	"strings"
)

// DetectHostInfo probes the host for the requirement kinds the checker can
// verify, keyed the way manifests declare them ("linux" for the kernel
// version). Kinds that cannot be detected on this platform are absent from
// the map and skipped during checking.
func DetectHostInfo() map[string]string {
	info := make(map[string]string)
	if runtime.GOOS == "linux" {
		if release, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			version := strings.TrimSpace(string(release))
			// Trim distro suffixes like "-generic" so the version parses.
			if i := strings.IndexByte(version, '-'); i > 0 {
				version = version[:i]
			}
			info["linux"] = version
		}
	}
	return info
}
