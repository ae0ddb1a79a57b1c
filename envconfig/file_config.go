package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config represents the TOML configuration structure
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Tokenizer struct {
		Vocab       string `toml:"vocab"`
		CacheSize   int    `toml:"cache_size"`
		NumParallel int    `toml:"num_parallel"`
	} `toml:"tokenizer"`

	Logging struct {
		Debug int `toml:"debug"`
	} `toml:"logging"`
}

var (
	configOnce sync.Once
	config     *Config
	configPath string
)

// GetConfigPaths returns the list of possible config file paths in lookup order.
func GetConfigPaths() []string {
	var paths []string
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		paths = append(paths, filepath.Join(xdgConfig, "gptenc", "config.toml"))
	}

	home, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "gptenc", "config.toml"),
			filepath.Join(home, ".gptenc", "config.toml"),
		)
	}

	return append(paths, "/etc/gptenc/config.toml")
}

// loadConfig loads the first available configuration file
func loadConfig(paths []string) (*Config, string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}
	return nil, "", nil
}

// ConfigPath returns the config file in use, if any.
func ConfigPath() string {
	GetConfigValue("")
	return configPath
}

// GetConfigValue returns the value for a given environment variable key from the config file
func GetConfigValue(key string) string {
	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig(GetConfigPaths())
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	switch key {
	case "GPTENC_HOST":
		return config.Server.Host
	case "GPTENC_ORIGINS":
		if len(config.Server.Origins) > 0 {
			return strings.Join(config.Server.Origins, ",")
		}
	case "GPTENC_VOCAB":
		return config.Tokenizer.Vocab
	case "GPTENC_CACHE_SIZE":
		if config.Tokenizer.CacheSize > 0 {
			return fmt.Sprintf("%d", config.Tokenizer.CacheSize)
		}
	case "GPTENC_NUM_PARALLEL":
		if config.Tokenizer.NumParallel > 0 {
			return fmt.Sprintf("%d", config.Tokenizer.NumParallel)
		}
	case "GPTENC_DEBUG":
		if config.Logging.Debug > 0 {
			return fmt.Sprintf("%d", config.Logging.Debug)
		}
	}

	return ""
}

// GenerateExampleConfig returns a commented example TOML configuration
func GenerateExampleConfig() string {
	return `# gptenc configuration file
# Environment variables (GPTENC_*) take precedence over these values.

[server]
# Network binding address (default: "127.0.0.1:11535")
host = "127.0.0.1:11535"
# Allowed CORS origins
origins = ["http://localhost:3000"]

[tokenizer]
# Vocabulary directory, tokenizer.json file or encoding name (default: "gpt2")
vocab = "gpt2"
# Maximum number of cached merge results (default: 0 = unbounded)
cache_size = 0
# Maximum number of texts encoded in parallel by batch requests (default: number of CPUs)
num_parallel = 4

[logging]
# 1 enables debug logging, 2 enables trace logging (default: 0)
debug = 0
`
}
