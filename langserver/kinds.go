package langserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mesonbuild/vscode-meson-sub000/version"
)

// Kind enumerates the language servers this package knows how to manage.
type Kind int

const (
	KindNone Kind = iota
	KindMesonLSP
	KindSwiftMesonLSP
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMesonLSP:
		return "mesonlsp"
	case KindSwiftMesonLSP:
		return "Swift-MesonLSP"
	default:
		return "none"
	}
}

// Kinds lists every server kind that has a descriptor.
func Kinds() []Kind {
	return []Kind{KindMesonLSP, KindSwiftMesonLSP}
}

// ParseKind maps a configured server name to a kind. Empty and "none"
// select KindNone; unknown names report false.
func ParseKind(name string) (Kind, bool) {
	switch strings.TrimSpace(name) {
	case "", "none":
		return KindNone, true
	case "mesonlsp":
		return KindMesonLSP, true
	case "Swift-MesonLSP":
		return KindSwiftMesonLSP, true
	default:
		return KindNone, false
	}
}

// Artifact locates one packaged build of a server.
type Artifact struct {
	URL    string `validate:"required,url"`
	SHA256 string `validate:"required,len=64,hexadecimal"`
}

// Availability describes what a descriptor offers for a platform.
type Availability int

const (
	// Unsupported means no build of the server runs on the platform.
	Unsupported Availability = iota
	// Unpublished means the server runs there but must be built by hand.
	Unpublished
	// Published means a prebuilt artifact can be downloaded.
	Published
)

// String returns a lowercase availability name.
func (a Availability) String() string {
	switch a {
	case Published:
		return "published"
	case Unpublished:
		return "unpublished"
	default:
		return "unsupported"
	}
}

// Descriptor is the static description of one server kind.
type Descriptor struct {
	Name          string          `validate:"required"`
	Binary        string          `validate:"required"`
	Version       version.Version `validate:"-"`
	RepositoryURL string          `validate:"required,url"`
	SetupURL      string          `validate:"required,url"`
	Args          []string
	Supported     []Platform            `validate:"required,min=1"`
	Artifacts     map[Platform]Artifact `validate:"dive"`
}

// Descriptor returns the static description for k.
func (k Kind) Descriptor() (Descriptor, bool) {
	switch k {
	case KindMesonLSP:
		return mesonLSP, true
	case KindSwiftMesonLSP:
		return swiftMesonLSP, true
	default:
		return Descriptor{}, false
	}
}

// Lookup resolves a configured server name to its descriptor. Unknown names
// and KindNone report false.
func Lookup(name string) (Descriptor, bool) {
	kind, ok := ParseKind(name)
	if !ok {
		return Descriptor{}, false
	}
	return kind.Descriptor()
}

// SupportsSystem reports whether any build of the server runs on p.
func (d Descriptor) SupportsSystem(p Platform) bool {
	for _, s := range d.Supported {
		if s == p {
			return true
		}
	}
	return false
}

// Artifact returns the packaged build for p. It reports false both when the
// platform is unsupported and when nothing is published for it; use
// Availability to tell the two apart.
func (d Descriptor) Artifact(p Platform) (Artifact, bool) {
	a, ok := d.Artifacts[p]
	return a, ok
}

// Availability classifies p for this server.
func (d Descriptor) Availability(p Platform) Availability {
	if !d.SupportsSystem(p) {
		return Unsupported
	}
	if _, ok := d.Artifact(p); !ok {
		return Unpublished
	}
	return Published
}

// ExecutableName returns the binary file name on p.
func (d Descriptor) ExecutableName(p Platform) string {
	if p.IsWindows() {
		return d.Binary + ".exe"
	}
	return d.Binary
}

// RunArgs returns the standard invocation arguments followed by extra.
func (d Descriptor) RunArgs(extra ...string) []string {
	args := make([]string, 0, len(d.Args)+len(extra))
	args = append(args, d.Args...)
	return append(args, extra...)
}

var descriptorValidator = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Validate checks URLs and digests before anything is downloaded.
func (d Descriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		return fmt.Errorf("invalid descriptor %q: %w", d.Name, err)
	}
	return nil
}

var mainPlatforms = []Platform{LinuxX64, LinuxArm64, DarwinX64, DarwinArm64, Win32X64}

// Release digests are taken from the checksums published with each release
// and must be refreshed whenever Version changes.
var mesonLSP = Descriptor{
	Name:          "mesonlsp",
	Binary:        "mesonlsp",
	Version:       version.MustNew(4, 3, 7),
	RepositoryURL: "https://github.com/JCWasmx86/mesonlsp",
	SetupURL:      "https://github.com/JCWasmx86/mesonlsp/tree/main/docs",
	Args:          []string{"--lsp"},
	Supported:     mainPlatforms,
	Artifacts: map[Platform]Artifact{
		LinuxX64: {
			URL:    "https://github.com/JCWasmx86/mesonlsp/releases/download/v4.3.7/mesonlsp-x86_64-unknown-linux-musl.zip",
			SHA256: "092b5431a8b66b3c1ebf4b691bf25f7d02240a0a64c965138a8a2c2c953a4b95",
		},
		LinuxArm64: {
			URL:    "https://github.com/JCWasmx86/mesonlsp/releases/download/v4.3.7/mesonlsp-aarch64-unknown-linux-musl.zip",
			SHA256: "ae9e91589ef1b729cd854dbc6b5271c7ea1306e825ff03071a044e92080be6f3",
		},
		DarwinX64: {
			URL:    "https://github.com/JCWasmx86/mesonlsp/releases/download/v4.3.7/mesonlsp-x86_64-apple-darwin.zip",
			SHA256: "a5b8d9359de9f0a66c20684c09db66294c7a19953d9105b872f258afb65d187c",
		},
		DarwinArm64: {
			URL:    "https://github.com/JCWasmx86/mesonlsp/releases/download/v4.3.7/mesonlsp-aarch64-apple-darwin.zip",
			SHA256: "be86a1b44031051a1e6a89bd74c86183402c069b2c7d00c0661b6fb80a7059fe",
		},
		Win32X64: {
			URL:    "https://github.com/JCWasmx86/mesonlsp/releases/download/v4.3.7/mesonlsp-x86_64-pc-windows-gnu.zip",
			SHA256: "4007a6545e35983177b30c68ddeca1ba933688a62ac86682e31942c7a15ff34b",
		},
	},
}

// linux-arm64 runs but has no prebuilt package.
var swiftMesonLSP = Descriptor{
	Name:          "Swift-MesonLSP",
	Binary:        "Swift-MesonLSP",
	Version:       version.MustNew(3, 1, 3),
	RepositoryURL: "https://github.com/JCWasmx86/Swift-MesonLSP",
	SetupURL:      "https://github.com/JCWasmx86/Swift-MesonLSP/tree/main/Docs",
	Args:          []string{"--lsp"},
	Supported:     mainPlatforms,
	Artifacts: map[Platform]Artifact{
		LinuxX64: {
			URL:    "https://github.com/JCWasmx86/Swift-MesonLSP/releases/download/v3.1.3/Swift-MesonLSP-linux-x64.zip",
			SHA256: "f8002bb55357376616c0896dd41ca5239208d91590309841f6c94d9f21f9d368",
		},
		DarwinX64: {
			URL:    "https://github.com/JCWasmx86/Swift-MesonLSP/releases/download/v3.1.3/Swift-MesonLSP-macos12.zip",
			SHA256: "0470c10d8c3c615b3f753a99c631abfc77e858f916841acf637289c88a60954d",
		},
		DarwinArm64: {
			URL:    "https://github.com/JCWasmx86/Swift-MesonLSP/releases/download/v3.1.3/Swift-MesonLSP-macos-arm.zip",
			SHA256: "245d7fed6ccf0e37eb64b462773edaf62673062a889b71eb076c620281fb8d18",
		},
		Win32X64: {
			URL:    "https://github.com/JCWasmx86/Swift-MesonLSP/releases/download/v3.1.3/Swift-MesonLSP-win64.zip",
			SHA256: "fbfc393365256e0d06a554415a6780addc9c5480c72ed24a77483cf66d5d8633",
		},
	},
}
