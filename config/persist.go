package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

const backupCount = 3

// createBackup rotates path.back1..back3 and copies the current file to .back1.
func createBackup(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	oldest := backupName(path, backupCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", oldest)
	}
	for i := backupCount - 1; i >= 1; i-- {
		from := backupName(path, i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, backupName(path, i+1)); err != nil {
				return errors.Wrapf(err, "rotate %s", from)
			}
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config for backup")
	}
	if err := os.WriteFile(backupName(path, 1), content, 0600); err != nil {
		return errors.Wrap(err, "write .back1")
	}
	return nil
}

func backupName(path string, n int) string {
	return path + ".back" + strconv.Itoa(n)
}

// Set writes a dotted key (e.g. "poller.interval_seconds") into the toml file at
// path, creating the file and intermediate tables as needed. The previous file is
// kept as a rotating backup.
func Set(path, key string, value interface{}) error {
	if path == "" {
		return errors.New("no config path")
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return errors.Newf("invalid config key %q", key)
		}
	}

	doc := make(map[string]interface{})
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "read %s", path)
	}

	table := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := table[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			table[p] = next
		}
		table = next
	}
	table[parts[len(parts)-1]] = value

	return writeFile(path, doc)
}

// Save writes cfg as a complete toml document to path.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

func writeFile(path string, doc interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "backup config")
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	markOwnWrite(path)

	// Provider keys may live here
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
