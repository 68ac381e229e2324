// Package codec converts containers to and from their canonical text
// encoding.
//
// A plain container carries a trailing "signature": the hex SHA-256 of the
// canonical encoding of every other field. The digest detects accidental
// corruption only. It involves no secret, so anyone who edits a plain file
// can recompute it. Tamper resistance comes from sealing (see package
// encryption); a sealed container's inner payload carries no digest.
package codec

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"portab/internal/model"
)

// File extensions for the two at-rest forms.
const (
	ExtPlain  = ".portab"
	ExtSealed = ".sportab"
)

// DefaultWarnSize is the serialized size above which Serialize warns.
const DefaultWarnSize int64 = 10 << 20

// WarnOversize is the Warning.Code for output above the warning threshold.
const WarnOversize = "oversize"

// Warning is a non-fatal condition the caller should surface.
type Warning struct {
	Code    string
	Message string
}

func (w Warning) String() string { return w.Code + ": " + w.Message }

// Encoder serializes containers. The zero value never warns about size.
type Encoder struct {
	// WarnSize is the output size in bytes above which a WarnOversize
	// warning is returned. Zero or negative disables the check.
	WarnSize int64
	// Indent pretty-prints the output. The digest is unaffected.
	Indent bool
}

// DefaultEncoder is used by the package-level Serialize.
var DefaultEncoder = &Encoder{WarnSize: DefaultWarnSize, Indent: true}

// Serialize encodes c with DefaultEncoder.
func Serialize(c *model.Container) ([]byte, []Warning, error) {
	return DefaultEncoder.Serialize(c)
}

// Serialize validates and encodes c. Plain containers get a signature;
// secure containers, whose bytes are about to be sealed, do not.
// Oversized output is returned together with a warning, never rejected.
func (e *Encoder) Serialize(c *model.Container) ([]byte, []Warning, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	w := toWire(c)
	if c.Format == model.FormatPlain {
		sum, err := digestWire(w)
		if err != nil {
			return nil, nil, err
		}
		w.Signature = sum
	}

	data, err := marshal(w, e.Indent)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding container: %w", err)
	}

	var warnings []Warning
	if e.WarnSize > 0 && int64(len(data)) > e.WarnSize {
		warnings = append(warnings, Warning{
			Code:    WarnOversize,
			Message: fmt.Sprintf("container is %d bytes, above the %d byte warning threshold", len(data), e.WarnSize),
		})
	}
	return data, warnings, nil
}

// Digest returns the hex SHA-256 of c's canonical encoding without its
// signature.
func Digest(c *model.Container) (string, error) {
	return digestWire(toWire(c))
}

func digestWire(w *wireContainer) (string, error) {
	unsigned := *w
	unsigned.Signature = ""
	canonical, err := marshal(&unsigned, false)
	if err != nil {
		return "", fmt.Errorf("encoding container for digest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Parse decodes, integrity-checks and validates a container read from a
// .portab file.
//
// The container must carry a signature that matches its content; a
// missing one is ErrValidation on "signature" whatever the format field
// says, and a mismatch is ErrIntegrityMismatch. Invalid favicons are
// dropped after the digest check. Every other violation is ErrValidation.
func Parse(data []byte) (*model.Container, error) {
	return parse(data, false)
}

// ParseSealed decodes the payload of an opened envelope. The envelope's
// tag already covered these bytes, so an unsigned payload is accepted; a
// signature that is present is still checked.
func ParseSealed(data []byte) (*model.Container, error) {
	return parse(data, true)
}

func parse(data []byte, sealed bool) (*model.Container, error) {
	kind, err := Detect(data)
	if err != nil {
		return nil, err
	}
	if kind == KindEnvelope {
		return nil, model.Errorf(model.ErrValidation, "encrypted", "container is sealed and must be opened first")
	}

	var w wireContainer
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, decodeError(err)
	}

	switch {
	case w.Signature != "":
		if err := verifyDigest(&w); err != nil {
			return nil, err
		}
	case !sealed:
		return nil, model.Errorf(model.ErrValidation, "signature", "container has no signature")
	}

	c := fromWire(&w)
	dropInvalidFavicons(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func verifyDigest(w *wireContainer) error {
	want, err := hex.DecodeString(w.Signature)
	if err != nil {
		return &model.Error{Kind: model.ErrIntegrityMismatch, Field: "signature", Err: fmt.Errorf("signature is not hex: %w", err)}
	}
	got, err := digestWire(w)
	if err != nil {
		return err
	}
	gotRaw, _ := hex.DecodeString(got)
	if subtle.ConstantTimeCompare(want, gotRaw) != 1 {
		return model.Errorf(model.ErrIntegrityMismatch, "signature", "file corrupted: content digest does not match signature")
	}
	return nil
}

func dropInvalidFavicons(c *model.Container) {
	for i := range c.Windows {
		for j := range c.Windows[i].Tabs {
			t := &c.Windows[i].Tabs[j]
			if t.Favicon != "" && !model.ValidFavicon(t.Favicon) {
				t.Favicon = ""
			}
		}
	}
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &model.Error{Kind: model.ErrValidation, Field: typeErr.Field, Err: err}
	}
	return &model.Error{Kind: model.ErrValidation, Field: "container", Err: err}
}

// Kind identifies what a byte slice holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindContainer
	KindEnvelope
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// Extension returns the file extension for the kind.
func (k Kind) Extension() string {
	if k == KindEnvelope {
		return ExtSealed
	}
	return ExtPlain
}

type kindHeader struct {
	Encrypted bool            `json:"encrypted"`
	Windows   json.RawMessage `json:"windows"`
	Data      json.RawMessage `json:"data"`
}

// Detect reports whether data is a plain container or a sealed envelope.
func Detect(data []byte) (Kind, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return KindUnknown, model.Errorf(model.ErrValidation, "container", "input is empty")
	}
	var p kindHeader
	if err := json.Unmarshal(data, &p); err != nil {
		return KindUnknown, &model.Error{Kind: model.ErrValidation, Field: "container", Err: err}
	}
	switch {
	case p.Encrypted || (p.Data != nil && p.Windows == nil):
		return KindEnvelope, nil
	case p.Windows != nil:
		return KindContainer, nil
	default:
		return KindUnknown, model.Errorf(model.ErrValidation, "windows", "input is neither a container nor an envelope")
	}
}
