package logging

import (
	"os"
	"path/filepath"
)

// LogDirEnv overrides the directory used for the default log file.
const LogDirEnv = "FIXRECALL_LOG_DIR"

// DefaultLogPath is fixrecall.log under $FIXRECALL_LOG_DIR, else under
// ~/.fixrecall/logs, else under the temp directory when no home is known.
func DefaultLogPath() string {
	dir := os.Getenv(LogDirEnv)
	if dir == "" {
		base := os.TempDir()
		if home, err := os.UserHomeDir(); err == nil {
			base = home
		}
		dir = filepath.Join(base, ".fixrecall", "logs")
	}
	return filepath.Join(dir, "fixrecall.log")
}
