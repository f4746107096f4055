package keystore

import "fmt"

// key identifies a wallet file's slot: device, curve, and wallet name,
// mirroring the on-disk path convention ~/.frost_keystore/wallets/<device_id>/<curve>/<wallet_name>.dat.
type key struct {
	deviceID string
	curve    string
	name     string
}

func (k key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.deviceID, k.curve, k.name)
}

// Store persists WalletFile envelopes. Wallet files are already
// encrypted by the time they reach a Store, so every implementation
// is a dumb key-value layer — the same role FileStorage/PostgresStorage/
// MemoryStorage play for the teacher's ShareData, generalized to a
// three-part key.
type Store interface {
	Save(deviceID, curve, name string, wf *WalletFile) error
	Load(deviceID, curve, name string) (*WalletFile, error)
	Delete(deviceID, curve, name string) error
	// List returns the wallet names stored for a device, optionally
	// restricted to one curve ("" lists every curve).
	List(deviceID, curve string) ([]string, error)
}

// MemoryStore implements Store in memory, for tests that should not
// touch the filesystem.
type MemoryStore struct {
	files map[key]*WalletFile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[key]*WalletFile)}
}

func (m *MemoryStore) Save(deviceID, curve, name string, wf *WalletFile) error {
	m.files[key{deviceID, curve, name}] = wf
	return nil
}

func (m *MemoryStore) Load(deviceID, curve, name string) (*WalletFile, error) {
	wf, ok := m.files[key{deviceID, curve, name}]
	if !ok {
		return nil, newError(ErrWalletMissing, "wallet %q not found", name)
	}
	return wf, nil
}

func (m *MemoryStore) Delete(deviceID, curve, name string) error {
	delete(m.files, key{deviceID, curve, name})
	return nil
}

func (m *MemoryStore) List(deviceID, curve string) ([]string, error) {
	var names []string
	for k := range m.files {
		if k.deviceID != deviceID {
			continue
		}
		if curve != "" && k.curve != curve {
			continue
		}
		names = append(names, k.name)
	}
	return names, nil
}
