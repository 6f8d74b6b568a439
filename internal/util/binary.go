// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable by name. Candidates are tried in
// order: the environment variable override (when envVar is set), a copy
// in the current directory, and finally the PATH lookup.
//
// Returns the first candidate that exists and is executable.
func FindBinary(name string, envVar string) (string, error) {
	var candidates []string
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			candidates = append(candidates, envPath)
		}
	}
	candidates = append(candidates, "./"+name)

	for _, candidate := range candidates {
		if executable(candidate) {
			return candidate, nil
		}
	}

	// LookPath already verifies executability.
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// executable reports whether path is a regular file with an executable
// bit set for owner, group or other.
func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
