package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 32)
}

func newTestVault(t *testing.T, fill byte) *VaultManager {
	t.Helper()
	ks, err := NewStaticKeySource(testKey(fill))
	require.NoError(t, err)
	return NewVaultManagerWithKeySource(filepath.Join(t.TempDir(), "vault.db"), ks)
}

func TestVaultManager_SetAndGet(t *testing.T) {
	vm := newTestVault(t, 0x01)

	err := vm.Set("prod-mysql", "backup", "s3cr3t", "production primary")
	require.NoError(t, err)

	cred, err := vm.Get("prod-mysql")
	require.NoError(t, err)
	assert.Equal(t, "prod-mysql", cred.ID)
	assert.Equal(t, "backup", cred.Username)
	assert.Equal(t, "s3cr3t", cred.Secret)
	assert.Equal(t, "production primary", cred.Description)
	assert.False(t, cred.CreatedAt.IsZero())
	assert.Equal(t, cred.CreatedAt, cred.UpdatedAt)
}

func TestVaultManager_SetValidation(t *testing.T) {
	vm := newTestVault(t, 0x01)

	err := vm.Set("", "backup", "x", "")
	require.Error(t, err)
	assert.Equal(t, VaultErrorTypeValidation, err.(*VaultError).Type)

	err = vm.Set("id", "", "x", "")
	require.Error(t, err)
	assert.Equal(t, VaultErrorTypeValidation, err.(*VaultError).Type)
}

func TestVaultManager_OverwritePreservesCreatedAt(t *testing.T) {
	vm := newTestVault(t, 0x01)

	require.NoError(t, vm.Set("id", "first", "one", ""))
	original, err := vm.Get("id")
	require.NoError(t, err)

	require.NoError(t, vm.Set("id", "second", "two", ""))
	updated, err := vm.Get("id")
	require.NoError(t, err)

	assert.Equal(t, "second", updated.Username)
	assert.Equal(t, "two", updated.Secret)
	assert.Equal(t, original.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(original.UpdatedAt))
}

func TestVaultManager_GetNotFound(t *testing.T) {
	vm := newTestVault(t, 0x01)

	_, err := vm.Get("missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestVaultManager_GetReturnsCopy(t *testing.T) {
	vm := newTestVault(t, 0x01)
	require.NoError(t, vm.Set("id", "user", "secret", ""))

	first, err := vm.Get("id")
	require.NoError(t, err)
	first.Secret = "mutated"

	second, err := vm.Get("id")
	require.NoError(t, err)
	assert.Equal(t, "secret", second.Secret)
}

func TestVaultManager_Remove(t *testing.T) {
	vm := newTestVault(t, 0x01)
	require.NoError(t, vm.Set("id", "user", "secret", ""))

	require.NoError(t, vm.Remove("id"))

	_, err := vm.Get("id")
	assert.True(t, IsNotFound(err))
}

func TestVaultManager_RemoveNotFound(t *testing.T) {
	vm := newTestVault(t, 0x01)
	require.NoError(t, vm.Set("keep", "user", "secret", ""))

	err := vm.Remove("missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	// The miss must not have mutated anything.
	cred, err := vm.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, "secret", cred.Secret)
}

func TestVaultManager_ListIDs(t *testing.T) {
	vm := newTestVault(t, 0x01)

	ids, err := vm.ListIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, vm.Set("zeta", "u", "s", ""))
	require.NoError(t, vm.Set("alpha", "u", "s", ""))
	require.NoError(t, vm.Set("mid", "u", "s", ""))

	ids, err = vm.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestVaultManager_GetMetadataOmitsSecret(t *testing.T) {
	vm := newTestVault(t, 0x01)
	require.NoError(t, vm.Set("id", "user", "secret", "a note"))

	meta, err := vm.GetMetadata("id")
	require.NoError(t, err)
	assert.Equal(t, "a note", meta.Description)
	assert.False(t, meta.CreatedAt.IsZero())
}

func TestVaultManager_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	ks, err := NewStaticKeySource(testKey(0x02))
	require.NoError(t, err)

	first := NewVaultManagerWithKeySource(path, ks)
	require.NoError(t, first.Set("id", "user", "secret", ""))

	second := NewVaultManagerWithKeySource(path, ks)
	cred, err := second.Get("id")
	require.NoError(t, err)
	assert.Equal(t, "secret", cred.Secret)
}

func TestVaultManager_WrongKeyIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")

	ksA, err := NewStaticKeySource(testKey(0x03))
	require.NoError(t, err)
	require.NoError(t, NewVaultManagerWithKeySource(path, ksA).Set("id", "user", "secret", ""))

	ksB, err := NewStaticKeySource(testKey(0x04))
	require.NoError(t, err)
	wrong := NewVaultManagerWithKeySource(path, ksB)

	_, err = wrong.Get("id")
	require.Error(t, err)
	assert.True(t, IsDecryptionError(err), "wrong key must surface as a decryption error, got %v", err)

	// A decryption failure must never be downgraded to an empty store.
	_, err = wrong.ListIDs()
	assert.True(t, IsDecryptionError(err))
}

func TestVaultManager_CorruptedFileIsFatal(t *testing.T) {
	vm := newTestVault(t, 0x05)
	require.NoError(t, vm.Set("id", "user", "secret", ""))

	blob, err := os.ReadFile(vm.Path())
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(vm.Path(), blob, 0600))

	fresh := NewVaultManagerWithKeySource(vm.Path(), vm.keySource)
	_, err = fresh.Get("id")
	assert.True(t, IsDecryptionError(err))
}

func TestVaultManager_FileIsEncryptedAndPrivate(t *testing.T) {
	vm := newTestVault(t, 0x06)
	require.NoError(t, vm.Set("id", "user", "plain-text-secret", ""))

	blob, err := os.ReadFile(vm.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "plain-text-secret")
	assert.NotContains(t, string(blob), "user")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(vm.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestVaultManager_AbsentFileIsEmptyStore(t *testing.T) {
	vm := newTestVault(t, 0x07)

	ids, err := vm.ListIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
