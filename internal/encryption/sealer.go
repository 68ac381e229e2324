package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"portab/internal/model"
	"portab/internal/portab"
)

// Algorithm identifiers as written to the envelope's "algorithm" field.
const (
	AlgorithmAESGCM           = "AES-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"
)

const (
	// DefaultIterations is the PBKDF2-SHA256 iteration count for format 1.
	DefaultIterations = 600_000
	// MaxIterations bounds the count an envelope may ask an opener to run.
	MaxIterations = 10_000_000

	saltSize = 16
	keySize  = 32
)

type aeadSpec struct {
	nonceSize int
	new       func(key []byte) (cipher.AEAD, error)
}

var algorithms = map[string]aeadSpec{
	AlgorithmAESGCM: {
		nonceSize: 12,
		new: func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		},
	},
	AlgorithmChaCha20Poly1305: {
		nonceSize: chacha20poly1305.NonceSize,
		new:       chacha20poly1305.New,
	},
}

// Algorithms lists the supported envelope algorithms.
func Algorithms() []string {
	return []string{AlgorithmAESGCM, AlgorithmChaCha20Poly1305}
}

// PasswordSealer implements portab.Sealer.
//
// One PBKDF2-SHA256 run over the password and a fresh 16-byte salt yields
// 64 bytes: a 256-bit cipher key followed by a 256-bit HMAC-SHA256 key.
// The HMAC covers the ciphertext and is checked before decryption, so a
// wrong password is told apart from an envelope whose fields disagree.
type PasswordSealer struct {
	algorithm  string
	iterations int
	random     io.Reader
}

var _ portab.Sealer = (*PasswordSealer)(nil)

// SealerOption configures a PasswordSealer.
type SealerOption func(*PasswordSealer)

// WithAlgorithm selects the AEAD used by Seal. Open follows the envelope.
func WithAlgorithm(name string) SealerOption {
	return func(s *PasswordSealer) { s.algorithm = name }
}

// WithIterations sets the KDF iteration count used by Seal. The count is
// recorded in the envelope so Open always matches it.
func WithIterations(n int) SealerOption {
	return func(s *PasswordSealer) { s.iterations = n }
}

// WithRandom replaces the source of salts and nonces.
func WithRandom(r io.Reader) SealerOption {
	return func(s *PasswordSealer) { s.random = r }
}

// NewPasswordSealer returns a sealer using AES-GCM and DefaultIterations
// unless options say otherwise.
func NewPasswordSealer(opts ...SealerOption) (*PasswordSealer, error) {
	s := &PasswordSealer{
		algorithm:  AlgorithmAESGCM,
		iterations: DefaultIterations,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := algorithms[s.algorithm]; !ok {
		return nil, model.Errorf(model.ErrUnsupportedAlgorithm, "algorithm", "unknown algorithm %q", s.algorithm)
	}
	if s.iterations <= 0 || s.iterations > MaxIterations {
		return nil, fmt.Errorf("kdf iterations must be between 1 and %d, got %d", MaxIterations, s.iterations)
	}
	return s, nil
}

// Seal encrypts plaintext under password.
func (s *PasswordSealer) Seal(ctx context.Context, plaintext []byte, password string) (*model.Envelope, error) {
	if password == "" {
		return nil, model.Errorf(model.ErrValidation, "password", "password is empty")
	}
	spec := algorithms[s.algorithm]

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, spec.nonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	encKey, macKey, err := deriveKeys(ctx, password, salt, s.iterations)
	if err != nil {
		return nil, err
	}
	aead, err := spec.new(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating %s cipher: %w", s.algorithm, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	env := &model.Envelope{
		Version:   model.FormatVersion,
		Algorithm: s.algorithm,
		Salt:      salt,
		Nonce:     nonce,
		Data:      ciphertext,
		Signature: tag(macKey, ciphertext),
	}
	if s.iterations != DefaultIterations {
		env.Iterations = s.iterations
	}
	return env, nil
}

// Open checks env's tag under password and decrypts it.
func (s *PasswordSealer) Open(ctx context.Context, env *model.Envelope, password string) ([]byte, error) {
	spec, iterations, err := checkEnvelope(env)
	if err != nil {
		return nil, err
	}

	encKey, macKey, err := deriveKeys(ctx, password, env.Salt, iterations)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(tag(macKey, env.Data), env.Signature) {
		return nil, model.Errorf(model.ErrWrongPasswordOrTampered, "signature", "wrong password or the file was modified")
	}

	aead, err := spec.new(encKey)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrDecryptionFailed, Field: "algorithm", Err: err}
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrDecryptionFailed, Field: "data", Err: err}
	}
	return plaintext, nil
}

func checkEnvelope(env *model.Envelope) (aeadSpec, int, error) {
	if env == nil {
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "envelope", "envelope is nil")
	}
	if err := model.CheckVersion(env.Version); err != nil {
		return aeadSpec{}, 0, &model.Error{Kind: model.ErrUnsupportedAlgorithm, Field: "version", Err: err}
	}
	if env.Algorithm == "" {
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "algorithm", "algorithm is missing")
	}
	spec, ok := algorithms[env.Algorithm]
	if !ok {
		return aeadSpec{}, 0, model.Errorf(model.ErrUnsupportedAlgorithm, "algorithm", "unknown algorithm %q", env.Algorithm)
	}
	if len(env.Salt) == 0 {
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "salt", "salt is missing")
	}
	if len(env.Nonce) != spec.nonceSize {
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "iv", "%s needs a %d-byte nonce, got %d", env.Algorithm, spec.nonceSize, len(env.Nonce))
	}
	if len(env.Data) == 0 {
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "data", "ciphertext is missing")
	}

	iterations := env.Iterations
	switch {
	case iterations == 0:
		iterations = DefaultIterations
	case iterations < 0 || iterations > MaxIterations:
		return aeadSpec{}, 0, model.Errorf(model.ErrMalformedEnvelope, "kdf_iterations", "iteration count %d is out of range", iterations)
	}
	return spec, iterations, nil
}

// deriveKeys runs the KDF off the caller's goroutine so a cancelled ctx
// returns at once. An abandoned derivation finishes in the background and
// its result is dropped.
func deriveKeys(ctx context.Context, password string, salt []byte, iterations int) (encKey, macKey []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	done := make(chan []byte, 1)
	go func() {
		done <- pbkdf2.Key([]byte(password), salt, iterations, 2*keySize, sha256.New)
	}()
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case key := <-done:
		return key[:keySize], key[keySize:], nil
	}
}

func tag(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
