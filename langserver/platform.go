package langserver

import (
	"runtime"
	"strings"
)

// Platform identifies an operating system and CPU architecture using the
// names release artifacts are published under (linux/darwin/win32,
// x64/arm64).
type Platform struct {
	OS   string
	Arch string
}

// Known platforms.
var (
	LinuxX64    = Platform{OS: "linux", Arch: "x64"}
	LinuxArm64  = Platform{OS: "linux", Arch: "arm64"}
	DarwinX64   = Platform{OS: "darwin", Arch: "x64"}
	DarwinArm64 = Platform{OS: "darwin", Arch: "arm64"}
	Win32X64    = Platform{OS: "win32", Arch: "x64"}
	Win32Arm64  = Platform{OS: "win32", Arch: "arm64"}
)

// CurrentPlatform maps the running GOOS/GOARCH onto artifact names.
// Unmapped values pass through unchanged and match no artifact table.
func CurrentPlatform() Platform {
	return platformFor(runtime.GOOS, runtime.GOARCH)
}

func platformFor(goos, goarch string) Platform {
	p := Platform{OS: goos, Arch: goarch}
	if goos == "windows" {
		p.OS = "win32"
	}
	switch goarch {
	case "amd64":
		p.Arch = "x64"
	case "arm64":
		p.Arch = "arm64"
	}
	return p
}

// ParsePlatform reads a "<os>-<arch>" slug.
func ParsePlatform(slug string) (Platform, bool) {
	os, arch, ok := strings.Cut(slug, "-")
	if !ok || os == "" || arch == "" {
		return Platform{}, false
	}
	return Platform{OS: os, Arch: arch}, true
}

// String returns the "<os>-<arch>" slug.
func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}

// IsWindows reports whether executables need an .exe suffix and no
// permission bits.
func (p Platform) IsWindows() bool {
	return p.OS == "win32"
}
