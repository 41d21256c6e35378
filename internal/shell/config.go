package shell

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"rouen/internal/envx"
)

// ConfigFileName is the project-local config file name.
const ConfigFileName = ".rouen.json"

// Config holds shell configuration. Files are JWCC (JSON with comments and
// trailing commas); values support $NAME expansion.
type Config struct {
	Editor     string   `json:"editor,omitempty"`
	LogLevel   string   `json:"log_level,omitempty"`
	DataDir    string   `json:"data_dir,omitempty"`
	CacheDir   string   `json:"cache_dir,omitempty"`
	StartCards []string `json:"start_cards,omitempty"`

	// Sources tracks which config files were loaded, for diagnostics.
	Sources ConfigSources `json:"-"`
}

// ConfigSources records where config values came from.
type ConfigSources struct {
	Global  string
	Project string
}

// DefaultConfig returns the built-in defaults. Paths are expanded against
// env at load time.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		DataDir:  "$HOME/.local/share/rouen",
		CacheDir: "$HOME/.cache/rouen",
	}
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDir    string            // project directory; empty means os.Getwd
	ConfigPath string            // explicit --config value, overrides the project file
	Env        map[string]string // environment variables
}

// LoadConfig loads configuration with the following precedence (highest
// wins): defaults, global user config ($XDG_CONFIG_HOME/rouen/config.json
// or ~/.config/rouen/config.json), project .rouen.json or the explicit
// --config file. Path values are $NAME-expanded before return.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalPath := globalConfigPath(input.Env)
	if globalPath != "" {
		loaded, found, err := readConfigFile(globalPath)
		if err != nil {
			return Config{}, err
		}

		if found {
			cfg = mergeConfig(cfg, loaded)
			cfg.Sources.Global = globalPath
		}
	}

	projectPath := input.ConfigPath
	explicit := projectPath != ""

	if projectPath == "" {
		projectPath = filepath.Join(workDir, ConfigFileName)
	}

	loaded, found, err := readConfigFile(projectPath)
	if err != nil {
		return Config{}, err
	}

	if explicit && !found {
		return Config{}, fmt.Errorf("config file not found: %s", projectPath)
	}

	if found {
		cfg = mergeConfig(cfg, loaded)
		cfg.Sources.Project = projectPath
	}

	cfg.DataDir = envx.Expand(input.Env, cfg.DataDir)
	cfg.CacheDir = envx.Expand(input.Env, cfg.CacheDir)

	if cfg.DataDir == "" || cfg.CacheDir == "" {
		return Config{}, fmt.Errorf("config: data_dir and cache_dir must resolve to paths")
	}

	return cfg, nil
}

// globalConfigPath follows $XDG_CONFIG_HOME, then $HOME/.config.
func globalConfigPath(env map[string]string) string {
	if xdg := envx.Get(env, "XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rouen", "config.json")
	}

	if home := envx.Get(env, "HOME"); home != "" {
		return filepath.Join(home, ".config", "rouen", "config.json")
	}

	return ""
}

func readConfigFile(path string) (Config, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("read config %q: %w", path, err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	var cfg Config

	err = json.Unmarshal(standard, &cfg)
	if err != nil {
		return Config{}, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, true, nil
}

// mergeConfig overlays non-zero fields of overlay onto base.
func mergeConfig(base, overlay Config) Config {
	if overlay.Editor != "" {
		base.Editor = overlay.Editor
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.CacheDir != "" {
		base.CacheDir = overlay.CacheDir
	}

	if len(overlay.StartCards) > 0 {
		base.StartCards = overlay.StartCards
	}

	return base
}
