package codec

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"portab/internal/model"
)

type wireEnvelope struct {
	Version       string       `json:"version"`
	Format        model.Format `json:"format"`
	Encrypted     bool         `json:"encrypted"`
	Algorithm     string       `json:"algorithm"`
	KDFIterations int          `json:"kdf_iterations,omitempty"`
	Salt          string       `json:"salt"`
	IV            string       `json:"iv"`
	Data          string       `json:"data"`
	Signature     string       `json:"signature"`
}

// SerializeEnvelope encodes env with DefaultEncoder.
func SerializeEnvelope(env *model.Envelope) ([]byte, error) {
	return DefaultEncoder.SerializeEnvelope(env)
}

// SerializeEnvelope encodes env in its at-rest form: binary fields as
// base64, the tag as hex.
func (e *Encoder) SerializeEnvelope(env *model.Envelope) ([]byte, error) {
	w := wireEnvelope{
		Version:       env.Version,
		Format:        model.FormatSecure,
		Encrypted:     true,
		Algorithm:     env.Algorithm,
		KDFIterations: env.Iterations,
		Salt:          base64.StdEncoding.EncodeToString(env.Salt),
		IV:            base64.StdEncoding.EncodeToString(env.Nonce),
		Data:          base64.StdEncoding.EncodeToString(env.Data),
		Signature:     hex.EncodeToString(env.Signature),
	}

	data, err := marshal(w, e.Indent)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope decodes a sealed container. It checks that every field is
// present and decodable; whether the algorithm is supported and whether the
// tag verifies is up to the sealer.
//
// Undecodable data or signature fields cannot match any tag and are
// reported as ErrWrongPasswordOrTampered, the same as any other edit.
func ParseEnvelope(data []byte) (*model.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &model.Error{Kind: model.ErrMalformedEnvelope, Field: "envelope", Err: err}
	}

	if err := model.CheckVersion(w.Version); err != nil {
		return nil, &model.Error{Kind: model.ErrUnsupportedAlgorithm, Field: "version", Err: err}
	}
	if w.Format != model.FormatSecure {
		return nil, model.Errorf(model.ErrMalformedEnvelope, "format", "sealed container has format %q", w.Format)
	}
	if !w.Encrypted {
		return nil, model.Errorf(model.ErrMalformedEnvelope, "encrypted", "sealed container is not marked encrypted")
	}
	if w.Algorithm == "" {
		return nil, model.Errorf(model.ErrMalformedEnvelope, "algorithm", "algorithm is missing")
	}
	if w.KDFIterations < 0 {
		return nil, model.Errorf(model.ErrMalformedEnvelope, "kdf_iterations", "iteration count %d is negative", w.KDFIterations)
	}

	salt, err := decodeRequired(w.Salt, "salt")
	if err != nil {
		return nil, err
	}
	nonce, err := decodeRequired(w.IV, "iv")
	if err != nil {
		return nil, err
	}
	if w.Data == "" {
		return nil, model.Errorf(model.ErrMalformedEnvelope, "data", "ciphertext is missing")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrWrongPasswordOrTampered, Field: "data", Err: err}
	}
	sig, err := hex.DecodeString(w.Signature)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrWrongPasswordOrTampered, Field: "signature", Err: err}
	}

	return &model.Envelope{
		Version:    w.Version,
		Algorithm:  w.Algorithm,
		Iterations: w.KDFIterations,
		Salt:       salt,
		Nonce:      nonce,
		Data:       ciphertext,
		Signature:  sig,
	}, nil
}

func decodeRequired(s, field string) ([]byte, error) {
	if s == "" {
		return nil, model.Errorf(model.ErrMalformedEnvelope, field, "%s is missing", field)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrMalformedEnvelope, Field: field, Err: err}
	}
	return b, nil
}
