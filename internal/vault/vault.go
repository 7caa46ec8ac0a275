package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// storeVersion tags the serialized store format.
const storeVersion = 1

// vaultFilePermissions restricts the vault file to the owning account.
const vaultFilePermissions = 0600

// Credential is a stored {username, secret} pair with metadata. Credentials
// are owned exclusively by the vault and mutated only through vault
// operations.
type Credential struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Secret      string    `json:"secret"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CredentialMetadata is the non-secret subset of a credential.
type CredentialMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Description string    `json:"description,omitempty"`
}

// vaultStore is the full plaintext credential map. It is serialized and
// encrypted as one opaque blob; no partial encryption ever happens.
type vaultStore struct {
	Version     int                    `json:"version"`
	Credentials map[string]*Credential `json:"credentials"`
}

func newVaultStore() *vaultStore {
	return &vaultStore{
		Version:     storeVersion,
		Credentials: make(map[string]*Credential),
	}
}

// VaultManager is the encrypted credential store. Construct one instance and
// pass it by reference to every consumer; there is no process-wide singleton.
//
// Mutations serialize on an internal mutex, which makes the
// read-decrypt-modify-encrypt-write cycle a critical section within a single
// process. Multi-process access to the same vault file is not coordinated.
type VaultManager struct {
	path      string
	keySource KeySource

	mu    sync.Mutex
	cache map[string]*Credential // nil until the store has been decrypted once
}

// NewVaultManager creates a vault manager over the given file path using the
// host-bound machine key.
func NewVaultManager(path string) *VaultManager {
	return NewVaultManagerWithKeySource(path, NewMachineKeySource())
}

// NewVaultManagerWithKeySource creates a vault manager with an explicit key
// source.
func NewVaultManagerWithKeySource(path string, keySource KeySource) *VaultManager {
	return &VaultManager{
		path:      path,
		keySource: keySource,
	}
}

// Set inserts or overwrites a credential. UpdatedAt is always refreshed;
// CreatedAt of an existing entry is preserved.
func (vm *VaultManager) Set(id, username, secret, description string) error {
	if id == "" {
		return NewValidationError("credential id is required", nil)
	}
	if username == "" {
		return NewValidationError("credential username is required", nil)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	store, err := vm.loadStoreLocked()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cred := &Credential{
		ID:          id,
		Username:    username,
		Secret:      secret,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, ok := store.Credentials[id]; ok {
		cred.CreatedAt = existing.CreatedAt
	}
	store.Credentials[id] = cred

	if err := vm.persistStoreLocked(store); err != nil {
		return err
	}

	// Cache is refreshed wholesale from the store just persisted.
	vm.cache = store.Credentials
	return nil
}

// Get returns the credential for id, or a not-found error. The first call
// decrypts the full store once and populates the cache; later calls are
// served from memory.
func (vm *VaultManager) Get(id string) (*Credential, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.cache == nil {
		store, err := vm.loadStoreLocked()
		if err != nil {
			return nil, err
		}
		vm.cache = store.Credentials
	}

	cred, ok := vm.cache[id]
	if !ok {
		return nil, NewNotFoundError("credential not found: " + id)
	}
	copied := *cred
	return &copied, nil
}

// Remove deletes a credential and persists the store. Removing an id that
// does not exist returns a not-found error without mutating anything.
func (vm *VaultManager) Remove(id string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	store, err := vm.loadStoreLocked()
	if err != nil {
		return err
	}

	if _, ok := store.Credentials[id]; !ok {
		return NewNotFoundError("credential not found: " + id)
	}
	delete(store.Credentials, id)

	if err := vm.persistStoreLocked(store); err != nil {
		return err
	}

	vm.cache = store.Credentials
	return nil
}

// ListIDs returns all credential ids in sorted order.
func (vm *VaultManager) ListIDs() ([]string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.cache == nil {
		store, err := vm.loadStoreLocked()
		if err != nil {
			return nil, err
		}
		vm.cache = store.Credentials
	}

	ids := make([]string, 0, len(vm.cache))
	for id := range vm.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetMetadata returns the non-secret metadata for a credential.
func (vm *VaultManager) GetMetadata(id string) (*CredentialMetadata, error) {
	cred, err := vm.Get(id)
	if err != nil {
		return nil, err
	}
	return &CredentialMetadata{
		CreatedAt:   cred.CreatedAt,
		UpdatedAt:   cred.UpdatedAt,
		Description: cred.Description,
	}, nil
}

// loadStoreLocked reads and decrypts the vault file. An absent file yields an
// empty store; a present file that fails authentication is a fatal
// decryption error, never silently treated as empty.
func (vm *VaultManager) loadStoreLocked() (*vaultStore, error) {
	blob, err := os.ReadFile(vm.path)
	if os.IsNotExist(err) {
		return newVaultStore(), nil
	}
	if err != nil {
		return nil, NewStorageError("failed to read vault file", err)
	}

	plaintext, err := vm.decrypt(blob)
	if err != nil {
		return nil, err
	}

	store := newVaultStore()
	if err := json.Unmarshal(plaintext, store); err != nil {
		return nil, NewDecryptionError("vault contents are not a valid store", err)
	}
	if store.Credentials == nil {
		store.Credentials = make(map[string]*Credential)
	}
	return store, nil
}

// persistStoreLocked serializes, encrypts and atomically replaces the vault
// file. The temp file is created in the same directory so the final rename
// cannot cross filesystems; no partial write is ever observable at the final
// path.
func (vm *VaultManager) persistStoreLocked(store *vaultStore) error {
	plaintext, err := json.Marshal(store)
	if err != nil {
		return NewStorageError("failed to serialize vault store", err)
	}

	blob, err := vm.encrypt(plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(vm.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return NewStorageError("failed to create vault directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return NewStorageError("failed to create temporary vault file", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(vaultFilePermissions); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageError("failed to restrict vault file permissions", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageError("failed to write vault file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("failed to close vault file", err)
	}

	if err := os.Rename(tmpPath, vm.path); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("failed to replace vault file", err)
	}
	return nil
}

// encrypt seals the serialized store with AES-256-GCM. The nonce is prepended
// to the ciphertext, matching the layout Decrypt expects.
func (vm *VaultManager) encrypt(plaintext []byte) ([]byte, error) {
	key, err := vm.keySource.Key()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewStorageError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewStorageError("failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewStorageError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens the blob written by encrypt. GCM authentication covers the
// whole blob, so any tampering or wrong-key attempt surfaces here.
func (vm *VaultManager) decrypt(blob []byte) ([]byte, error) {
	key, err := vm.keySource.Key()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewDecryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewDecryptionError("failed to create GCM cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, NewDecryptionError("vault file too short to be a valid blob", nil)
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewDecryptionError("vault blob failed authentication (wrong key or corrupted file)", err)
	}
	return plaintext, nil
}

// Path returns the vault file location.
func (vm *VaultManager) Path() string {
	return vm.path
}
