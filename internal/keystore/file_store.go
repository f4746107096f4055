package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements Store on the local filesystem, under
// <basePath>/<device_id>/<curve>/<wallet_name>.dat — the production
// default keystore backend.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore creates the base directory if needed and returns a
// FileStore rooted at it.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("creating keystore directory: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

func (fs *FileStore) walletPath(deviceID, curve, name string) string {
	return filepath.Join(fs.basePath, deviceID, curve, name+".dat")
}

func (fs *FileStore) Save(deviceID, curve, name string, wf *WalletFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.walletPath(deviceID, curve, name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating wallet directory: %w", err)
	}

	raw, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing wallet file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("writing wallet file: %w", err)
	}
	return nil
}

func (fs *FileStore) Load(deviceID, curve, name string) (*WalletFile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	raw, err := os.ReadFile(fs.walletPath(deviceID, curve, name))
	if os.IsNotExist(err) {
		return nil, newError(ErrWalletMissing, "wallet %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}

	var wf WalletFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parsing wallet file: %w", err)
	}
	return &wf, nil
}

func (fs *FileStore) Delete(deviceID, curve, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.walletPath(deviceID, curve, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting wallet file: %w", err)
	}
	return nil
}

func (fs *FileStore) List(deviceID, curve string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	curves := []string{curve}
	if curve == "" {
		entries, err := os.ReadDir(filepath.Join(fs.basePath, deviceID))
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading device directory: %w", err)
		}
		curves = curves[:0]
		for _, e := range entries {
			if e.IsDir() {
				curves = append(curves, e.Name())
			}
		}
	}

	var names []string
	for _, c := range curves {
		entries, err := os.ReadDir(filepath.Join(fs.basePath, deviceID, c))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading curve directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".dat" {
				continue
			}
			names = append(names, e.Name()[:len(e.Name())-len(".dat")])
		}
	}
	return names, nil
}
