package model

// Envelope is a sealed container at rest. It holds no plaintext field:
// the serialized container lives only inside Data.
type Envelope struct {
	Version   string
	Algorithm string // AEAD identifier, e.g. "AES-GCM"

	// Iterations is the KDF iteration count used at seal time. Zero means
	// the default for the format version.
	Iterations int

	Salt      []byte // KDF salt, fresh per seal
	Nonce     []byte // AEAD nonce, fresh per seal
	Data      []byte // ciphertext including the AEAD tag
	Signature []byte // password-keyed HMAC over Data
}
