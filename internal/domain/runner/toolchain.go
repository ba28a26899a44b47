package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/codesphere/backend/internal/domain/room"
)

const binaryName = "program"

// Toolchain is the fixed command sequence for one language. Argument
// templates may reference {src}, {bin} and {entry}.
type Toolchain struct {
	Compile []string
	Run     []string
}

// Override replaces toolchain binaries for one language.
type Override struct {
	Compiler string `yaml:"compiler" toml:"compiler"`
	Runtime  string `yaml:"runtime" toml:"runtime"`
}

// Toolchains maps each language to its command sequence.
type Toolchains map[room.Language]Toolchain

// DefaultToolchains returns the stock toolchain table.
func DefaultToolchains() Toolchains {
	return Toolchains{
		room.Java: {
			Compile: []string{"javac", "{src}"},
			Run:     []string{"java", "-cp", ".", "{entry}"},
		},
		room.Python: {
			Run: []string{"python3", "{src}"},
		},
		room.Cpp: {
			Compile: []string{"g++", "-o", "{bin}", "{src}"},
			Run:     []string{"{bin}"},
		},
		room.JavaScript: {
			Run: []string{"node", "{src}"},
		},
	}
}

// LoadToolchains reads operator overrides from a YAML or TOML file, chosen
// by extension, and applies them to the defaults. An empty path yields the
// defaults.
func LoadToolchains(path string) (Toolchains, error) {
	tc := DefaultToolchains()
	if path == "" {
		return tc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read toolchain file: %w", err)
	}

	overrides := map[string]Override{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &overrides)
	case ".toml":
		err = toml.Unmarshal(data, &overrides)
	default:
		return nil, fmt.Errorf("unsupported toolchain file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse toolchain file %s: %w", path, err)
	}

	for key, o := range overrides {
		lang, ok := room.ParseLanguage(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnsupportedLanguage, key, path)
		}
		tc[lang] = tc[lang].apply(o)
	}
	return tc, nil
}

func (t Toolchain) apply(o Override) Toolchain {
	out := Toolchain{
		Compile: append([]string(nil), t.Compile...),
		Run:     append([]string(nil), t.Run...),
	}
	if o.Compiler != "" && len(out.Compile) > 0 {
		out.Compile[0] = o.Compiler
	}
	// A compiled binary is its own runtime.
	if o.Runtime != "" && len(out.Run) > 0 && !strings.Contains(out.Run[0], "{bin}") {
		out.Run[0] = o.Runtime
	}
	return out
}

// Available reports whether every external binary of the toolchain resolves
// on this host.
func (t Toolchain) Available() bool {
	for _, argv := range [][]string{t.Compile, t.Run} {
		if len(argv) == 0 || strings.Contains(argv[0], "{bin}") {
			continue
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			return false
		}
	}
	return len(t.Run) > 0
}

// expand fills an argument template for a workspace directory.
func expand(argv []string, src Source, dir string) []string {
	r := strings.NewReplacer(
		"{src}", src.File,
		"{bin}", filepath.Join(dir, binaryName),
		"{entry}", src.Entry,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
