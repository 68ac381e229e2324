package portab

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// maxBlobSize bounds how far a stored blob may decompress.
const maxBlobSize = 256 << 20

// packBlob turns exported bytes into what the vault stores: zstd frames,
// encrypted when an Encryptor is configured. Container JSON repeats keys
// and URL prefixes heavily and typically shrinks several times over.
func (s *Service) packBlob(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	compressed := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compressing archive: %w", err)
	}

	if s.encryptor == nil {
		return compressed, nil
	}
	var out bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(compressed), &out); err != nil {
		return nil, fmt.Errorf("encrypting archive: %w", err)
	}
	return out.Bytes(), nil
}

func unpackBlob(blob []byte, encrypted bool, dc DecryptionContext) ([]byte, error) {
	if encrypted {
		var plain bytes.Buffer
		if err := dc.Decrypt(bytes.NewReader(blob), &plain); err != nil {
			return nil, fmt.Errorf("decrypting archive: %w", err)
		}
		blob = plain.Bytes()
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dec.Close()
	data, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive: %w", err)
	}
	return data, nil
}
