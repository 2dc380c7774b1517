/*
Package config manages the TOML config for codeserve.

Files are decoded over DefaultConfig, so missing keys keep their defaults.
A file that fails to decode as a whole is re-read section by section and
every key that still has the right type is kept.
*/
package config

import (
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/trigger"
)

const appName = "codeserve"

// Config holds the entire config structure
type Config struct {
	Engine     EngineConfig        `toml:"engine"`
	Corpus     CorpusConfig        `toml:"corpus"`
	Controller ControllerConfig    `toml:"controller"`
	Triggers   map[string][]string `toml:"triggers"`
}

// EngineConfig has matching engine options.
type EngineConfig struct {
	MaxResults    int  `toml:"max_results"`
	InternalLimit int  `toml:"internal_limit"`
	BudgetMs      int  `toml:"budget_ms"`
	SubstringTier bool `toml:"substring_tier"`
}

// CorpusConfig holds corpus store options.
type CorpusConfig struct {
	// Dir is an optional directory of user corpora that shadow the builtin ones.
	Dir            string   `toml:"dir"`
	MemoryBudgetMB int      `toml:"memory_budget_mb"`
	Preload        []string `toml:"preload"`
	Watch          bool     `toml:"watch"`
}

// ControllerConfig holds completion controller options.
type ControllerConfig struct {
	DebounceMs int `toml:"debounce_ms"`
}

// Budget returns the match latency budget.
func (e EngineConfig) Budget() time.Duration {
	return time.Duration(e.BudgetMs) * time.Millisecond
}

// MemoryBudget returns the corpus cache budget in bytes.
func (c CorpusConfig) MemoryBudget() int64 {
	return int64(c.MemoryBudgetMB) << 20
}

// Debounce returns the keystroke coalescing window.
func (c ControllerConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// GetConfigDir returns the config directory with fallback priority:
// 1. ~/.config/codeserve
// 2. ~/Library/Application Support/codeserve (macOS)
// 3. Current executable dir
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		return utils.GetExecutableDir()
	}
	primaryPath := filepath.Join(homeDir, ".config", appName)
	if result := utils.CheckDirStatus(primaryPath); result.Writable {
		return primaryPath, nil
	}
	macOSPath := filepath.Join(homeDir, "Library", "Application Support", appName)
	if result := utils.CheckDirStatus(macOSPath); result.Writable {
		return macOSPath, nil
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/codeserve/config.toml
// 3. Builtin defaults
//
// It never fails; the returned path is empty when builtin defaults are used.
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err == nil {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
			log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxResults:    10,
			InternalLimit: 200,
			BudgetMs:      16,
			SubstringTier: true,
		},
		Corpus: CorpusConfig{
			MemoryBudgetMB: 50,
			Preload:        []string{"c", "cpp", "python", "rust", "javascript"},
			Watch:          true,
		},
		Controller: ControllerConfig{
			DebounceMs: 50,
		},
		Triggers: trigger.DefaultTriggers(),
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config from %s: %v. Using built-in defaults...", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

// LoadConfig loads from a TOML file. A [triggers] table replaces the
// defaults per language; languages it does not name keep theirs.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	config.Triggers = nil

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	config.Triggers = mergeTriggers(config.Triggers)
	return config.normalize(), nil
}

// tryPartialParse attempts to parse a TOML file
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "engine"); ok {
		extractEngineConfig(section, &config.Engine)
	}
	if section, ok := utils.ExtractSection(tempConfig, "corpus"); ok {
		extractCorpusConfig(section, &config.Corpus)
	}
	if section, ok := utils.ExtractSection(tempConfig, "controller"); ok {
		extractControllerConfig(section, &config.Controller)
	}
	if section, ok := utils.ExtractSection(tempConfig, "triggers"); ok {
		config.Triggers = mergeTriggers(extractTriggers(section))
	}
	return config.normalize(), nil
}

func extractEngineConfig(data map[string]any, engine *EngineConfig) {
	if val, ok := utils.ExtractInt64(data, "max_results"); ok {
		engine.MaxResults = val
	}
	if val, ok := utils.ExtractInt64(data, "internal_limit"); ok {
		engine.InternalLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "budget_ms"); ok {
		engine.BudgetMs = val
	}
	if val, ok := utils.ExtractBool(data, "substring_tier"); ok {
		engine.SubstringTier = val
	}
}

func extractCorpusConfig(data map[string]any, corpus *CorpusConfig) {
	if val, ok := utils.ExtractString(data, "dir"); ok {
		corpus.Dir = val
	}
	if val, ok := utils.ExtractInt64(data, "memory_budget_mb"); ok {
		corpus.MemoryBudgetMB = val
	}
	if val, ok := utils.ExtractStringSlice(data, "preload"); ok {
		corpus.Preload = val
	}
	if val, ok := utils.ExtractBool(data, "watch"); ok {
		corpus.Watch = val
	}
}

func extractControllerConfig(data map[string]any, controller *ControllerConfig) {
	if val, ok := utils.ExtractInt64(data, "debounce_ms"); ok {
		controller.DebounceMs = val
	}
}

func extractTriggers(data map[string]any) map[string][]string {
	out := make(map[string][]string, len(data))
	for lang := range data {
		if seqs, ok := utils.ExtractStringSlice(data, lang); ok {
			out[lang] = seqs
		}
	}
	return out
}

// mergeTriggers overlays user trigger tables on the defaults.
func mergeTriggers(user map[string][]string) map[string][]string {
	merged := trigger.DefaultTriggers()
	maps.Copy(merged, user)
	return merged
}

// normalize replaces out of range values with their defaults.
func (c *Config) normalize() *Config {
	d := DefaultConfig()
	if c.Engine.MaxResults <= 0 {
		log.Warnf("engine.max_results must be positive, using %d", d.Engine.MaxResults)
		c.Engine.MaxResults = d.Engine.MaxResults
	}
	if c.Engine.InternalLimit < c.Engine.MaxResults {
		log.Warnf("engine.internal_limit below max_results, using %d", max(d.Engine.InternalLimit, c.Engine.MaxResults))
		c.Engine.InternalLimit = max(d.Engine.InternalLimit, c.Engine.MaxResults)
	}
	if c.Engine.BudgetMs <= 0 {
		c.Engine.BudgetMs = d.Engine.BudgetMs
	}
	if c.Corpus.MemoryBudgetMB <= 0 {
		c.Corpus.MemoryBudgetMB = d.Corpus.MemoryBudgetMB
	}
	if c.Controller.DebounceMs < 0 {
		c.Controller.DebounceMs = d.Controller.DebounceMs
	}
	return c
}

// RebuildConfigFile force creates a new config.toml at default
func RebuildConfigFile() error {
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(defaultPath)); err != nil {
		return err
	}
	return SaveConfig(DefaultConfig(), defaultPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		return "builtin defaults"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}
