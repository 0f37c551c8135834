// Package driverscript ships the Python driver executed for every connection.
package driverscript

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/mattjoyce/lmcbridge/internal/config"
	"github.com/mattjoyce/lmcbridge/internal/log"
)

//go:embed driver.py
var Source []byte

// Artifact is an extracted copy of a driver script on disk.
type Artifact struct {
	Path   string
	Digest string // BLAKE3 of the contents

	removeOnce sync.Once
}

// Extract writes data to a fresh temporary file whose name ends in suffix.
func Extract(data []byte, suffix string) (*Artifact, error) {
	f, err := os.CreateTemp("", "lmcbridge-driver-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create driver script: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write driver script: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close driver script: %w", err)
	}
	// Read and execute only; the file is shared by every connection.
	if err := os.Chmod(path, 0o500); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("chmod driver script: %w", err)
	}

	return &Artifact{Path: path, Digest: config.FingerprintBytes(data)}, nil
}

// ExtractDefault extracts the embedded Python driver.
func ExtractDefault() (*Artifact, error) {
	return Extract(Source, ".py")
}

// Remove deletes the file. Only the first call does anything; failures are
// logged and swallowed.
func (a *Artifact) Remove() {
	if a == nil {
		return
	}
	a.removeOnce.Do(func() {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			log.Get().Warn("failed to remove driver script", "path", a.Path, "error", err)
		}
	})
}
