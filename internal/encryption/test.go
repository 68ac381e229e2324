package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"portab/internal/model"
	"portab/internal/portab"
)

// testMagic marks blobs written by TestEncryptor so that a stored blob
// never equals the archived container bytes.
var testMagic = []byte("PTBTEST\n")

// TestEncryptor is a reversible, key-free Encryptor for tests. It checks the
// passphrase given to Unlock against the one given to Setup so callers can
// exercise the wrong-passphrase path.
type TestEncryptor struct {
	passphrase string
	configured bool
}

var _ portab.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing test magic: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying archive: %w", err)
	}
	return nil
}

// Unlock accepts any passphrase until Setup has been called.
func (e *TestEncryptor) Unlock(passphrase string) (portab.DecryptionContext, error) {
	if e.configured && passphrase != e.passphrase {
		return nil, model.Errorf(model.ErrWrongPasswordOrTampered, "passphrase", "test passphrase mismatch")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext strips the marker written by TestEncryptor.
type TestDecryptionContext struct{}

var _ portab.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(testMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("reading test magic: %w", err)
	}
	if !bytes.Equal(magic, testMagic) {
		return fmt.Errorf("blob was not written by TestEncryptor")
	}
	if _, err := io.Copy(w, br); err != nil {
		return fmt.Errorf("copying archive: %w", err)
	}
	return nil
}
