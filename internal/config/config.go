// Package config resolves filesystem paths and server settings.
// Layering: defaults < environment < flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// ClaudeDir is the transcript root; transcripts live under
	// <ClaudeDir>/projects/<encoded-cwd>/<session-id>.jsonl.
	ClaudeDir string `json:"claude_dir"`

	// DataDir holds everything this tool owns: the index
	// database, the server config file, scratch directories.
	DataDir string `json:"data_dir"`

	DBPath      string `json:"-"`
	ScratchRoot string `json:"-"`

	// LegacyTitlesPath is the pre-index rename file. Imported
	// into the titles table once, then renamed to a .migrated
	// sibling.
	LegacyTitlesPath string `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("determining home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".sessionvault")
	cfg := Config{
		Host:      "127.0.0.1",
		Port:      8484,
		ClaudeDir: filepath.Join(home, ".claude"),
		DataDir:   dataDir,
	}
	cfg.derivePaths()
	return cfg, nil
}

// Load builds a Config by layering defaults, environment, and
// explicitly-set flags. The FlagSet must already be parsed.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	cfg.derivePaths()
	return cfg, nil
}

// LoadMinimal builds a Config from defaults and environment,
// without CLI flags. Use for subcommands with their own flag
// sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	cfg.loadEnv()
	cfg.derivePaths()
	return cfg, nil
}

func (c *Config) derivePaths() {
	c.DBPath = filepath.Join(c.DataDir, "index.db")
	c.ScratchRoot = filepath.Join(c.DataDir, "scratch")
	c.LegacyTitlesPath = filepath.Join(c.DataDir, "renames.json")
}

func (c *Config) loadEnv() {
	if v := os.Getenv("SESSIONVAULT_CLAUDE_DIR"); v != "" {
		c.ClaudeDir = v
	}
	if v := os.Getenv("SESSIONVAULT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// ServerConfigPath is where bridge credentials live.
func (c *Config) ServerConfigPath() string {
	return filepath.Join(c.DataDir, "server.json")
}

// RegisterServeFlags registers serve-command flags on fs. The
// caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8484, "Port to listen on")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		}
	})
}
