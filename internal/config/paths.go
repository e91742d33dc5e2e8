package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".meshgate"

// Paths locates the gateway's state on disk. Pairing and session tables
// share the DB file. Logs is created for logging.file targets; nothing is
// written there unless the config points a log file at it.
type Paths struct {
	Base   string
	Config string
	Data   string
	Logs   string
	DB     string
}

// ResolvePaths roots everything at $MESHGATE_HOME, or ~/.meshgate.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("MESHGATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	data := filepath.Join(base, "data")
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   data,
		Logs:   filepath.Join(base, "logs"),
		DB:     filepath.Join(data, "meshgate.db"),
	}, nil
}

// EnsureDirs creates the private state directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return &ConfigError{Path: d, Message: err.Error()}
		}
	}
	return nil
}
