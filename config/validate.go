package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Hard limits applied to config input before any parsing happens.
const (
	maxFileBytes = 10 << 20
	maxNestDepth = 100
	maxEnvBytes  = 10000
	maxPathBytes = 4096
)

// checkPath rejects config paths the loader should never touch. Absolute
// paths are accepted as given; relative paths must resolve inside the working
// directory so a crafted --config value cannot read arbitrary files.
func checkPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	if len(path) > maxPathBytes {
		return fmt.Errorf("config path longer than %d bytes", maxPathBytes)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config extension %q, want .yaml, .yml or .json", filepath.Ext(path))
	}

	if filepath.IsAbs(path) {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("config path %s escapes the working directory", path)
	}
	return nil
}

// readConfigFile loads a config file after validating the path, the file
// type and the size cap.
func readConfigFile(path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config path %s is not a regular file", path)
	}
	if info.Size() > maxFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), maxFileBytes)
	}

	return os.ReadFile(path)
}

// writeConfigFile persists rendered config with owner-only permissions, for
// example when dumping the effective config during --validate runs.
func writeConfigFile(path string, data []byte) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if len(data) > maxFileBytes {
		return fmt.Errorf("config data is %d bytes, limit is %d", len(data), maxFileBytes)
	}
	return os.WriteFile(path, data, 0600)
}

// checkEnvValue rejects override values that cannot be legitimate settings.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvBytes {
		return fmt.Errorf("environment variable %s is %d bytes, limit is %d", key, len(value), maxEnvBytes)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("environment variable %s contains a null byte", key)
	}
	return nil
}

// checkJSONDepth bounds bracket nesting before json.Unmarshal sees the data,
// since deeply nested input makes the decoder recurse.
func checkJSONDepth(data []byte) error {
	var depth int
	var inString, escaped bool

	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxNestDepth {
				return fmt.Errorf("json nested deeper than %d levels", maxNestDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.New("json brackets unbalanced")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("json brackets left open at depth %d", depth)
	}
	return nil
}
