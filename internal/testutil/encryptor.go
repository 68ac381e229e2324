package testutil

import (
	"testing"

	"portab/internal/encryption"
	"portab/internal/portab"
)

// TestPassphrase unlocks encryptors built by NewTestEncryptor.
const TestPassphrase = "test-archive-passphrase"

// NewTestEncryptor returns a configured TestEncryptor and a decryption
// context already unlocked with TestPassphrase.
func NewTestEncryptor(t *testing.T) (*encryption.TestEncryptor, portab.DecryptionContext) {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	if err := enc.Setup(TestPassphrase); err != nil {
		t.Fatalf("setting up test encryptor: %v", err)
	}
	dc, err := enc.Unlock(TestPassphrase)
	if err != nil {
		t.Fatalf("unlocking test encryptor: %v", err)
	}
	return enc, dc
}

// TestIterations keeps key derivation fast in tests.
const TestIterations = 1000

// NewTestSealer returns a PasswordSealer with a low iteration count.
func NewTestSealer(t *testing.T, opts ...encryption.SealerOption) *encryption.PasswordSealer {
	t.Helper()

	s, err := encryption.NewPasswordSealer(append([]encryption.SealerOption{encryption.WithIterations(TestIterations)}, opts...)...)
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}
	return s
}
