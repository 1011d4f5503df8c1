package jobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"fuse":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckFilesystem returns an error when the vault sits on a network or FUSE
// filesystem, where rename is not guaranteed to be atomic across clients.
// Callers report it as a warning; the store still works on a single host.
func (s *Store) CheckFilesystem() error {
	return checkFilesystemWithDetector(s.root, detectFilesystemType)
}

func checkFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve vault path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"vault path %q is on %q; claims rely on atomic rename, which network and synced filesystems may not provide when several machines watch the same vault",
			path,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	if strings.HasPrefix(normalized, "macfuse") || strings.HasPrefix(normalized, "osxfuse") {
		return true
	}
	_, found := networkFilesystems[normalized]
	return found
}
