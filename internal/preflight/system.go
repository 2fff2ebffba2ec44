package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	// MinDiskSpaceBytes is the free space required under the data directory.
	// index.db holds every chunk and vector, so leave room for two copies.
	MinDiskSpaceBytes = 100 << 20

	// MinFileDescriptors is the floor for the open file limit. The watcher
	// also holds one descriptor per watched directory.
	MinFileDescriptors = 1024
)

// CheckDiskSpace checks free space on the volume holding the data directory.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingParent(path), &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(MinDiskSpaceBytes))
	result.Status = StatusPass
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Details = "Free space or point storage.data_dir at a larger volume"
	}
	return result
}

// CheckFileDescriptors warns when the open file limit is low for watching
// watchDirs directories on top of the databases.
func (c *Checker) CheckFileDescriptors(watchDirs int) CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read the open file limit: %v", err)
		return result
	}

	want := uint64(MinFileDescriptors)
	if need := uint64(watchDirs)*2 + 256; need > want {
		want = need
	}
	result.Message = fmt.Sprintf("%d (want at least %d)", limit.Cur, want)
	result.Status = StatusPass
	if limit.Cur < want {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before 'fixrecall watch'", want*4)
	}
	return result
}

// existingParent walks up from path to the nearest directory that exists.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
