package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is wrapped by Get calls for a checksum or metadata item the
// vault does not hold.
var ErrNotFound = errors.New("not found in vault")

// checkChecksum accepts lowercase hex only. Checksums become file names
// and object keys, so anything else could escape the content prefix.
func checkChecksum(checksum string) error {
	if checksum == "" {
		return fmt.Errorf("checksum is empty")
	}
	for _, r := range checksum {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("checksum %q is not lowercase hex", checksum)
		}
	}
	return nil
}

// metadataKey returns "<hostID>/<name>" after checking that neither part
// could be read as a path.
func metadataKey(hostID, name string) (string, error) {
	for _, part := range []string{hostID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid metadata key part %q", part)
		}
	}
	return hostID + "/" + name, nil
}

// readSized reads all of r and checks it yielded exactly size bytes.
func readSized(r io.Reader, size int64) ([]byte, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := io.Copy(&buf, r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	return buf.Bytes(), nil
}
