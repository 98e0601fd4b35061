package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBinaryName is the executable searched for on PATH.
const DefaultBinaryName = "codex"

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Backoff returns the delay before restart attempt n (1-based):
// 1s, 2s, 4s, 8s, 16s, then capped at 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past 2^5 the cap wins; avoid shifting into overflow.
	if attempt > 16 {
		return backoffCap
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// FindBinary searches each directory in pathEnv, split by
// os.PathListSeparator, for an executable regular file named name.
func FindBinary(name, pathEnv string) (string, error) {
	if name == "" {
		name = DefaultBinaryName
	}
	for _, dir := range strings.Split(pathEnv, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate, nil
			}
			return abs, nil
		}
	}
	return "", ErrBinaryNotFound
}

// LookPath resolves the codex binary using the process PATH.
func LookPath(name string) (string, error) {
	return FindBinary(name, os.Getenv("PATH"))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
