package portab

import (
	"context"
	"io"

	"portab/internal/model"
)

// Sealer wraps serialized containers in password-protected envelopes.
//
// Both operations derive keys from the password, which is slow on purpose.
// They honour ctx cancellation; a cancelled call returns ctx.Err() and
// leaves nothing behind.
type Sealer interface {
	// Seal encrypts plaintext under a key derived from password with a
	// fresh salt and nonce.
	Seal(ctx context.Context, plaintext []byte, password string) (*model.Envelope, error)

	// Open verifies the envelope's tag and then decrypts it. A tag mismatch
	// is model.ErrWrongPasswordOrTampered and is reported before any
	// decryption is attempted.
	Open(ctx context.Context, env *model.Envelope, password string) ([]byte, error)
}

// Encryptor protects archived blobs at rest in a vault. Unlike Sealer it is
// keyed by a stored key pair: encrypting needs only the public half, so
// archiving never prompts, while retrieving needs the private half unlocked
// with a passphrase.
type Encryptor interface {
	// Setup generates the key pair and stores the private half protected
	// by passphrase. Called once by `portab keys init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key. A wrong passphrase is
	// model.ErrWrongPasswordOrTampered.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for one session. The key
// stays in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
