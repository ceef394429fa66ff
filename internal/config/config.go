// Package config loads tds2pdb settings from defaults, a tds2pdb.toml file
// and TDS2PDB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"github.com/jtang613/tds2pdb/pkg/pdb/msf"
	"github.com/jtang613/tds2pdb/pkg/pdb/streams"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

// FileName is the project file searched for next to the input.
const FileName = "tds2pdb.toml"

// Config holds the conversion settings.
type Config struct {
	PageSize uint32 `toml:"page_size"`
	Age      uint32 `toml:"age"`
	CodePage string `toml:"codepage"`
	Machine  uint16 `toml:"machine"`
	Jobs     int    `toml:"jobs"`
	Globals  bool   `toml:"globals"`
	Bind     bool   `toml:"bind"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		PageSize: msf.DefaultPageSize,
		Age:      1,
		CodePage: "windows-1252",
		Machine:  streams.MachineI386,
		Jobs:     1,
		Bind:     true,
	}
}

// Load decodes the TOML file at path over c. Keys absent from the file keep
// their current values.
func (c *Config) Load(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	return nil
}

// FindFile walks up from startDir looking for tds2pdb.toml.
func FindFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// FromEnv applies the TDS2PDB_* variables that are set.
func (c *Config) FromEnv() error {
	if env.Has("TDS2PDB_PAGE_SIZE") {
		n, err := envUint32("TDS2PDB_PAGE_SIZE")
		if err != nil {
			return err
		}
		c.PageSize = n
	}
	if env.Has("TDS2PDB_AGE") {
		n, err := envUint32("TDS2PDB_AGE")
		if err != nil {
			return err
		}
		c.Age = n
	}
	c.CodePage = env.Str("TDS2PDB_CODEPAGE", c.CodePage)
	if env.Has("TDS2PDB_JOBS") {
		c.Jobs = env.Int("TDS2PDB_JOBS", 0)
	}
	if env.Has("TDS2PDB_GLOBALS") {
		c.Globals = env.Bool("TDS2PDB_GLOBALS")
	}
	if env.Has("TDS2PDB_BIND") {
		c.Bind = env.Bool("TDS2PDB_BIND")
	}
	return nil
}

func envUint32(name string) (uint32, error) {
	n, err := safecast.Conv[uint32](env.Int(name, -1))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", name, env.Str(name), err)
	}
	return n, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if !slices.Contains(msf.ValidBlockSizes, c.PageSize) {
		return fmt.Errorf("invalid page size %d: must be one of %v", c.PageSize, msf.ValidBlockSizes)
	}
	if _, err := tds.LookupCodePage(c.CodePage); err != nil {
		return err
	}
	if c.Jobs < 1 {
		return fmt.Errorf("invalid jobs %d: must be at least 1", c.Jobs)
	}
	return nil
}
