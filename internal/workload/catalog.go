package workload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk shape of a workload file.
type Catalog struct {
	Workloads []Workload `json:"workloads" yaml:"workloads" toml:"workloads"`
}

// LoadFile reads a catalog from YAML, TOML or JSON, chosen by extension.
func LoadFile(path string) ([]Workload, error) {
	var cat Catalog

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, &cat)
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s: unknown keys %v", ErrInvalidWorkload, path, undecoded)
		}
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		if ext == ".json" {
			err = json.Unmarshal(data, &cat)
		} else {
			err = yaml.Unmarshal(data, &cat)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}

	if err := Validate(cat.Workloads); err != nil {
		return nil, err
	}
	return cat.Workloads, nil
}

// Default is the Rust-on-Xtensa toolchain workload. Everything is desired
// installed; the MinGW and Visual C++ build tools apply to Windows only.
func Default() []Workload {
	return []Workload{{
		Name:  "rust-xtensa",
		Title: "Rust toolchain for Xtensa targets",
		Components: []Component{
			{ID: "rustup", Title: "rustup", DesiredState: "installed"},
			{ID: "rust-toolchain", Title: "Rust Xtensa toolchain", DesiredState: "installed"},
			{ID: "rust-src", Title: "Rust sources", DesiredState: "installed"},
			{ID: "llvm-xtensa", Title: "LLVM for Xtensa", DesiredState: "installed"},
			{ID: "mingw", Title: "MinGW toolchain", DesiredState: "installed", When: `os == "windows"`},
			{ID: "vctools", Title: "Visual C++ build tools", DesiredState: "installed", When: `os == "windows"`},
			{ID: "espflash", Title: "espflash", DesiredState: "installed"},
			{ID: "cargo-espflash", Title: "cargo-espflash", DesiredState: "installed"},
			{ID: "ldproxy", Title: "ldproxy", DesiredState: "installed"},
			{ID: "cargo-generate", Title: "cargo-generate", DesiredState: "installed"},
		},
	}}
}
