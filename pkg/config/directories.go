package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TmpDir returns the temp directory, creating it if needed.
func (c *Config) TmpDir() (string, error) {
	return c.ensureDir(c.Directories.TmpDir)
}

// OutputDir returns the output directory, creating it if needed.
func (c *Config) OutputDir() (string, error) {
	return c.ensureDir(c.Directories.OutputDir)
}

// LogDir returns the log directory, creating it if needed.
func (c *Config) LogDir() (string, error) {
	return c.ensureDir(c.Directories.LogDir)
}

// DailyOutputDir returns the per-day download directory, creating it if
// needed.
func (c *Config) DailyOutputDir() (string, error) {
	return c.ensureDir(filepath.Join(c.Directories.OutputDir, c.Directories.DailyDir))
}

// FilteredOutputDir returns the per-day filtered directory, creating it if
// needed.
func (c *Config) FilteredOutputDir() (string, error) {
	return c.ensureDir(filepath.Join(c.Directories.OutputDir, c.Directories.FilteredDir))
}

// SirenCSVPath locates the SIREN registry file written by the extraction
// stage and read by the filtering stage.
func (c *Config) SirenCSVPath() (string, error) {
	tmp, err := c.TmpDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(tmp, c.Files.SirenFilename+".csv"), nil
}

func (c *Config) ensureDir(name string) (string, error) {
	if c.Directories.MainDir == "" {
		return "", errors.New("directories.main_dir is required")
	}
	if name == "" {
		return "", errors.New("directory name is empty in configuration")
	}
	dir := filepath.Join(c.Directories.MainDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	return dir, nil
}
