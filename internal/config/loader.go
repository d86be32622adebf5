package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file settings.
const EnvPrefix = "NBFIX_"

const (
	appDir        = "nbfix"
	systemDir     = "/etc/nbfix"
	maxConfigSize = 1 << 20
)

// Sections whose fields are grouped one level deeper, e.g.
// NBFIX_VECTORSTORE_QDRANT_API_KEY -> vectorstore.qdrant.api_key.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
}

// LoadWithFile builds the configuration in three layers: built-in defaults,
// then the YAML file, then NBFIX_* environment variables.
//
// An empty configPath means ~/.config/nbfix/config.yaml. The file may only
// live under ~/.config/nbfix or /etc/nbfix, must be owner-only (0600 or
// 0400) and at most 1MB. A missing file leaves defaults and env in effect.
func LoadWithFile(configPath string) (*Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	raw, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read %s* environment: %w", EnvPrefix, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDir), nil
}

// resolveConfigPath applies the default location and rejects files outside
// the two trusted directories. Symlinks are followed before the check.
func resolveConfigPath(path string) (string, error) {
	userDir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(userDir, "config.yaml")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("config path validation failed: %w", err)
	}
	target := abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		target = resolved
	}

	for _, dir := range []string{userDir, systemDir} {
		if target == dir || strings.HasPrefix(target, dir+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("config path validation failed: %s is not under ~/.config/%s/ or %s/", path, appDir, systemDir)
}

// readConfigFile returns nil content for a missing file. Mode and size are
// checked on the open descriptor so the file cannot be swapped in between.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return nil, fmt.Errorf("config file validation failed: %s has mode %v, want 0600 or 0400", path, perm)
		}
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file validation failed: %s is %d bytes, limit %d", path, info.Size(), maxConfigSize)
	}

	return io.ReadAll(io.LimitReader(f, maxConfigSize))
}

// envKey turns NBFIX_SECTION_FIELD_NAME into section.field_name. Only the
// first underscore separates section from field, except for nestedSections.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	for _, sub := range nestedSections[section] {
		if rest, found := strings.CutPrefix(field, sub+"_"); found {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// ExpandHome resolves a leading ~ so paths such as the secrets allowlist
// file can be written relative to the home directory.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, rest), nil
}
