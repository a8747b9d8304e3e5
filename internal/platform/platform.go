// Package platform answers identity and environment questions about the
// running process: who runs it, on which host and OS, and how it was invoked.
package platform

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// IsWindows returns true if running on Windows
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// systemNames maps GOOS values to the names operating systems report for themselves.
var systemNames = map[string]string{
	"linux":     "Linux",
	"darwin":    "Darwin",
	"windows":   "Windows",
	"freebsd":   "FreeBSD",
	"openbsd":   "OpenBSD",
	"netbsd":    "NetBSD",
	"dragonfly": "DragonFly",
	"solaris":   "SunOS",
	"illumos":   "SunOS",
	"aix":       "AIX",
}

// SystemName returns the OS family name, e.g. "Linux" or "Darwin".
func SystemName() string {
	if name, ok := systemNames[runtime.GOOS]; ok {
		return name
	}
	return runtime.GOOS
}

// OSInfo returns the platform family and kernel release, e.g. "Linux 6.8.0-45-generic".
// When the release cannot be determined only the family is returned.
func OSInfo(ctx context.Context) string {
	release, err := host.KernelVersionWithContext(ctx)
	if err != nil || release == "" {
		return SystemName()
	}
	return SystemName() + " " + strings.TrimSpace(release)
}

// Hostname returns the network name of this machine, or "" if it cannot be determined.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

// Username resolves the login name the same way interactive tools do: the
// LOGNAME, USER, LNAME and USERNAME variables first, then the account database.
func Username() string {
	for _, key := range []string{"LOGNAME", "USER", "LNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// Invocation splits an argument vector into the program path (argument zero)
// and the remaining arguments. The returned slice is a copy.
func Invocation(argv []string) (program string, args []string) {
	if len(argv) == 0 {
		return "", []string{}
	}
	args = make([]string, len(argv)-1)
	copy(args, argv[1:])
	return argv[0], args
}

// ConfigDir returns the directory holding glia's configuration file.
func ConfigDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".glia")
	}
	if IsWindows() {
		return `C:\ProgramData\Glia`
	}
	return "/etc/glia"
}
