package vault

import (
	"bytes"
	"crypto/sha256"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// keyDerivationSalt is a fixed application salt. The secret input to key
// derivation is the host machine identifier, so vault files are bound to the
// host that created them. This is a documented limitation, not a bug: moving
// a vault file to another machine makes it undecryptable.
var keyDerivationSalt = []byte("dbkeeper-vault-key-v1")

const keyDerivationIterations = 100000

// machineIDPaths are tried in order when deriving the vault key.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// KeySource produces the symmetric key that encrypts the vault file.
type KeySource interface {
	Key() ([]byte, error)
}

// MachineKeySource derives a 256-bit key from the host machine identifier
// using PBKDF2-SHA256. No external key management is required.
type MachineKeySource struct {
	// idPaths overrides machineIDPaths in tests.
	idPaths []string
}

// NewMachineKeySource creates the default host-bound key source.
func NewMachineKeySource() *MachineKeySource {
	return &MachineKeySource{idPaths: machineIDPaths}
}

// Key derives the vault encryption key from the machine identifier.
func (ks *MachineKeySource) Key() ([]byte, error) {
	id, err := ks.machineIdentifier()
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(id, keyDerivationSalt, keyDerivationIterations, 32, sha256.New), nil
}

func (ks *MachineKeySource) machineIdentifier() ([]byte, error) {
	for _, path := range ks.idPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
	}

	// Hosts without a machine-id file (containers, some BSDs) fall back to
	// the hostname. Weaker binding, same one-way derivation.
	hostname, err := os.Hostname()
	if err != nil {
		return nil, NewKeySourceError("no machine identifier available", err)
	}
	return []byte("hostname:" + hostname), nil
}

// StaticKeySource returns a fixed key. Used by tests and by deployments that
// provision a key file out of band.
type StaticKeySource struct {
	key []byte
}

// NewStaticKeySource creates a key source around a raw 32-byte key.
func NewStaticKeySource(key []byte) (*StaticKeySource, error) {
	if len(key) != 32 {
		return nil, NewKeySourceError("key must be 32 bytes for AES-256", nil)
	}
	return &StaticKeySource{key: key}, nil
}

// Key returns the static key.
func (ks *StaticKeySource) Key() ([]byte, error) {
	return ks.key, nil
}
