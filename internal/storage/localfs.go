package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for a database path on a network mount.
// WAL mode and flock-based locking are unreliable there.
var ErrNetworkFilesystem = errors.New("network filesystem")

var errFSDetectUnsupported = errors.New("filesystem detection unsupported on this platform")

var networkFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// checkLocalFilesystem rejects paths on network filesystems. A path that
// does not exist yet is judged by its nearest existing parent.
func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	dir, err := nearestExisting(path)
	if err != nil {
		return err
	}
	fsType, err := detect(dir)
	if errors.Is(err, errFSDetectUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("history database %q is on %s: %w; use a local history_path", path, fsType, ErrNetworkFilesystem)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
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
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
