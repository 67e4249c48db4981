// Package logging configures logrus for the pipeline commands: stderr
// output always, plus a timestamped per-run log file once the log
// directory is known. Old log files are pruned on startup.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxLogAge = 5 * 24 * time.Hour

// Setup applies the base logrus configuration.
func Setup(verbose bool) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// AttachFile mirrors log output into <logDir>/<YYYYMMDD_HHMMSS>_<name>.log
// and prunes .log files older than five days. It returns the log file path.
func AttachFile(logDir, name string) (string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create log directory")
	}

	pruneOldLogs(logDir, maxLogAge)

	path := filepath.Join(logDir, time.Now().Format("20060102_150405")+"_"+name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "open log file")
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.WithField("file", path).Info("logging to file")
	return path, nil
}

func pruneOldLogs(dir string, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.WithError(err).Warnf("could not remove old log %s", entry.Name())
		}
	}
}
