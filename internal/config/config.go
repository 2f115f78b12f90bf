package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"digestdb/internal/digest"
	"digestdb/internal/engine"
	"digestdb/internal/errs"
	"digestdb/internal/models"
)

const (
	DefaultIndexFileName        = engine.DefaultIndexFileName
	DefaultDataDirName          = engine.DefaultDataDirName
	DefaultShardDepth           = engine.DefaultShardDepth
	DefaultHashAlgorithm        = engine.DefaultHashAlgorithm
	DefaultChunkSize            = engine.DefaultChunkSize
	DefaultCategoryDeletePolicy = string(engine.DefaultCategoryDeletePolicy)
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"

	fileName = ".digestdb.toml"

	configDirEnvKey          = "DIGESTDB_CONFIG_DIR"
	trustProjectConfigEnvKey = "DIGESTDB_TRUST_PROJECT_CONFIG"
	homeEnvKey               = "DIGESTDB_HOME"
	shardDepthEnvKey         = "DIGESTDB_SHARD_DEPTH"
	hashEnvKey               = "DIGESTDB_HASH"
	logLevelEnvKey           = "DIGESTDB_LOG_LEVEL"
	logFormatEnvKey          = "DIGESTDB_LOG_FORMAT"
)

// Config defines runtime configuration for digestdb.
type Config struct {
	Home                     string `toml:"home"`
	IndexFileName            string `toml:"index_file_name"`
	DataDirName              string `toml:"data_dir_name"`
	ShardDepth               int    `toml:"shard_depth"`
	HashAlgorithm            string `toml:"hash_algorithm"`
	ChunkSize                int    `toml:"chunk_size"`
	CategoryDeletePolicy     string `toml:"category_delete_policy"`
	LogLevel                 string `toml:"log_level"`
	LogFormat                string `toml:"log_format"`
	MetricsFile              string `toml:"metrics_file"`
	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		IndexFileName:        DefaultIndexFileName,
		DataDirName:          DefaultDataDirName,
		ShardDepth:           DefaultShardDepth,
		HashAlgorithm:        DefaultHashAlgorithm,
		ChunkSize:            DefaultChunkSize,
		CategoryDeletePolicy: DefaultCategoryDeletePolicy,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, fileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"home",
	"index_file_name",
	"data_dir_name",
	"shard_depth",
	"hash_algorithm",
	"chunk_size",
	"category_delete_policy",
	"log_level",
	"log_format",
	"metrics_file",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "home":
		return c.Home, nil
	case "index_file_name":
		return c.IndexFileName, nil
	case "data_dir_name":
		return c.DataDirName, nil
	case "shard_depth":
		return strconv.Itoa(c.ShardDepth), nil
	case "hash_algorithm":
		return c.HashAlgorithm, nil
	case "chunk_size":
		return strconv.Itoa(c.ChunkSize), nil
	case "category_delete_policy":
		return c.CategoryDeletePolicy, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "metrics_file":
		return c.MetricsFile, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, fileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	data[key] = parsedValue

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, fileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, fileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if home := strings.TrimSpace(os.Getenv(homeEnvKey)); home != "" {
		cfg.Home = home
	}
	if raw := strings.TrimSpace(os.Getenv(shardDepthEnvKey)); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive integer", errs.ErrInvalidConfiguration, shardDepthEnvKey)
		}
		cfg.ShardDepth = depth
	}
	if hash := strings.TrimSpace(os.Getenv(hashEnvKey)); hash != "" {
		cfg.HashAlgorithm = hash
	}
	if level := strings.TrimSpace(os.Getenv(logLevelEnvKey)); level != "" {
		cfg.LogLevel = level
	}
	if format := strings.TrimSpace(os.Getenv(logFormatEnvKey)); format != "" {
		cfg.LogFormat = format
	}

	if cfg.Home == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Home = cwd
		}
	}
	cfg.normalizeDefaults()

	return &cfg, nil
}

// Validate reports the first setting that cannot be used to build an engine.
func (c *Config) Validate() error {
	if c.ShardDepth <= 0 {
		return fmt.Errorf("%w: shard_depth must be a positive integer", errs.ErrInvalidConfiguration)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be a positive integer", errs.ErrInvalidConfiguration)
	}
	if !digest.Supported(c.HashAlgorithm) {
		return fmt.Errorf("%w: unknown hash_algorithm %q (supported: %s)",
			errs.ErrInvalidConfiguration, c.HashAlgorithm, strings.Join(digest.Algorithms(), ", "))
	}
	if !models.CategoryDeletePolicy(c.CategoryDeletePolicy).Valid() {
		return fmt.Errorf("%w: unknown category_delete_policy %q", errs.ErrInvalidConfiguration, c.CategoryDeletePolicy)
	}
	return nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "shard_depth", "chunk_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "hash_algorithm":
		if !digest.Supported(value) {
			return nil, fmt.Errorf("hash_algorithm must be one of: %s", strings.Join(digest.Algorithms(), ", "))
		}
		return strings.ToLower(value), nil
	case "category_delete_policy":
		if !models.CategoryDeletePolicy(value).Valid() {
			return nil, fmt.Errorf("category_delete_policy must be one of: restrict, cascade, orphan")
		}
		return value, nil
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	case "log_format":
		switch strings.ToLower(value) {
		case "text", "json":
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("log_format must be one of: text, json")
	case "index_file_name", "data_dir_name":
		if value == "" || strings.ContainsRune(value, filepath.Separator) {
			return nil, fmt.Errorf("%s must be a plain file name", key)
		}
		return value, nil
	default:
		return value, nil
	}
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.IndexFileName) == "" {
		c.IndexFileName = DefaultIndexFileName
	}
	if strings.TrimSpace(c.DataDirName) == "" {
		c.DataDirName = DefaultDataDirName
	}
	if strings.TrimSpace(c.HashAlgorithm) == "" {
		c.HashAlgorithm = DefaultHashAlgorithm
	}
	if strings.TrimSpace(c.CategoryDeletePolicy) == "" {
		c.CategoryDeletePolicy = DefaultCategoryDeletePolicy
	}
	if strings.TrimSpace(c.LogFormat) == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.ShardDepth == 0 {
		c.ShardDepth = DefaultShardDepth
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// With returns a copy of c with key set to value, parsed the way SetKey
// parses it. The receiver is not modified.
func (c *Config) With(key, value string) (*Config, error) {
	if !IsAllowedKey(key) {
		return nil, fmt.Errorf("unknown key: %s", key)
	}
	parsed, err := parseSetValue(key, value)
	if err != nil {
		return nil, err
	}

	out := *c
	switch key {
	case "home":
		out.Home = parsed.(string)
	case "index_file_name":
		out.IndexFileName = parsed.(string)
	case "data_dir_name":
		out.DataDirName = parsed.(string)
	case "shard_depth":
		out.ShardDepth = parsed.(int)
	case "hash_algorithm":
		out.HashAlgorithm = parsed.(string)
	case "chunk_size":
		out.ChunkSize = parsed.(int)
	case "category_delete_policy":
		out.CategoryDeletePolicy = parsed.(string)
	case "log_level":
		out.LogLevel = parsed.(string)
	case "log_format":
		out.LogFormat = parsed.(string)
	case "metrics_file":
		out.MetricsFile = parsed.(string)
	}
	return &out, nil
}

// EngineOptions maps the configuration onto engine options. Logger and
// Metrics are left for the caller.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Home:                 c.Home,
		IndexFileName:        c.IndexFileName,
		DataDirName:          c.DataDirName,
		ShardDepth:           c.ShardDepth,
		HashAlgorithm:        c.HashAlgorithm,
		ChunkSize:            c.ChunkSize,
		CategoryDeletePolicy: models.CategoryDeletePolicy(c.CategoryDeletePolicy),
	}
}
