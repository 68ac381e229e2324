package encryption

import (
	"fmt"

	"portab/internal/config"
	"portab/internal/portab"
)

// NewEncryptorFromConfig returns the at-rest Encryptor for archived blobs.
// Type "none" returns a nil Encryptor: blobs are stored compressed only.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (portab.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewSealerFromConfig returns the password sealer for .sportab files.
func NewSealerFromConfig(cfg config.EnvelopeConfig) (*PasswordSealer, error) {
	var opts []SealerOption
	if cfg.Algorithm != "" {
		opts = append(opts, WithAlgorithm(cfg.Algorithm))
	}
	if cfg.KDFIterations != 0 {
		opts = append(opts, WithIterations(cfg.KDFIterations))
	}
	s, err := NewPasswordSealer(opts...)
	if err != nil {
		return nil, fmt.Errorf("configuring envelope: %w", err)
	}
	return s, nil
}
