package processor

import (
	"debug/elf"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/L1ghtError/LimbWorker/errors"
)

// ManifestFile is the optional descriptor read from a module's directory.
const ManifestFile = "manifest.yaml"

// Manifest describes a dynamic module without loading it.
type Manifest struct {
	Name    string `yaml:"name"`
	ABI     string `yaml:"abi"`
	Entry   string `yaml:"entry,omitempty"`
	Library string `yaml:"library,omitempty"`
	// Digest is "blake3:<hex>" over the library file.
	Digest string `yaml:"digest,omitempty"`
}

// Probe is the result of inspecting a library without initializing it.
type Probe struct {
	Path     string
	Entry    string
	Manifest *Manifest
	Digest   string
}

// Prober inspects a candidate library. It must not run any of its code.
type Prober interface {
	Probe(path string) (Probe, error)
}

// ELFProber reads the manifest, verifies the digest and looks up the entry
// symbol in the ELF dynamic symbol table.
type ELFProber struct {
	// RequireManifest rejects libraries without a manifest.yaml.
	RequireManifest bool
}

// Probe implements Prober.
func (p ELFProber) Probe(path string) (Probe, error) {
	result := Probe{Path: path, Entry: EntrySymbol}

	manifest, err := readManifest(path)
	if err != nil {
		return result, err
	}
	if manifest == nil && p.RequireManifest {
		return result, fmt.Errorf("%s: no %s: %w", path, ManifestFile, errors.ErrIncomplete)
	}

	if manifest != nil {
		result.Manifest = manifest
		if manifest.Entry != "" {
			result.Entry = manifest.Entry
		}
		if err := CheckABI(manifest.ABI); err != nil {
			return result, fmt.Errorf("%s: %w", path, err)
		}
	}

	digest, err := FileDigest(path)
	if err != nil {
		return result, err
	}
	result.Digest = digest
	if manifest != nil && manifest.Digest != "" && !strings.EqualFold(manifest.Digest, digest) {
		return result, fmt.Errorf("%s: digest %s does not match manifest %s: %w",
			path, digest, manifest.Digest, errors.ErrChecksumFailed)
	}

	if err := hasDynamicSymbol(path, result.Entry); err != nil {
		return result, err
	}
	return result, nil
}

// CheckABI compares the major component of version against ABIVersion.
func CheckABI(version string) error {
	if version == "" {
		return fmt.Errorf("manifest has no abi version: %w", errors.ErrIncomplete)
	}
	if major(version) != major(ABIVersion) {
		return fmt.Errorf("abi %s incompatible with %s: %w", version, ABIVersion, errors.ErrInvalidInput)
	}
	return nil
}

func major(version string) string {
	version = strings.TrimPrefix(version, "v")
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// FileDigest returns "blake3:<hex>" for the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}

// readManifest returns nil when the library directory has no manifest or the
// manifest names a different library.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %v: %w", path, err, errors.ErrParsingFailed)
	}
	if m.Library != "" && m.Library != filepath.Base(path) {
		return nil, nil
	}
	return &m, nil
}

// hasDynamicSymbol accepts either the bare name or a package-qualified one,
// which is how the Go linker exports plugin symbols.
func hasDynamicSymbol(path, symbol string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("%s is not a loadable library: %w", path, errors.ErrInvalidInput)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return fmt.Errorf("%s has no dynamic symbols: %w", path, errors.ErrInvalidInput)
	}
	for _, s := range syms {
		if s.Name == symbol || strings.HasSuffix(s.Name, "."+symbol) {
			return nil
		}
	}
	return fmt.Errorf("%s does not export %s: %w", path, symbol, errors.ErrNotFound)
}
