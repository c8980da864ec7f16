package script

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// maxDecoded bounds the inflated size of a share code.
const maxDecoded = 4 << 20

// Encode turns a script into a compact URL-safe share code.
func Encode(s *Script) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal script: %w", err)
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := gz.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress script: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress script: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. The result is parsed but not validated.
func Decode(code string) (*Script, error) {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("invalid share code: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid share code: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(io.LimitReader(gz, maxDecoded+1))
	if err != nil {
		return nil, fmt.Errorf("invalid share code: %w", err)
	}
	if len(data) > maxDecoded {
		return nil, fmt.Errorf("invalid share code: script larger than %d bytes", maxDecoded)
	}
	return Parse(data)
}
