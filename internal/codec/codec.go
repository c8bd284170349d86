// Package codec implements the compact storage encoding used for persisted state.
//
// Values are encoded as msgpack (struct fields use their short msgpack keys), compressed
// with zlib and base64 encoded behind a version marker. Text that starts with '[' or '{'
// is legacy uncompressed JSON using the long field names, and is still readable.
package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// VersionMarker prefixes every encoded value of the current schema
const VersionMarker = "v2."

// ErrUnknownFormat is returned when stored text matches no known schema
var ErrUnknownFormat = errors.New("codec: unknown storage format")

// IsLegacy reports whether text is uncompressed legacy JSON.
func IsLegacy(text string) bool {
	return strings.HasPrefix(text, "[") || strings.HasPrefix(text, "{")
}

// Encode serializes v into the current compressed schema.
func Encode(v interface{}) (string, error) {
	packed, err := msgpack.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to pack value: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(packed); err != nil {
		return "", fmt.Errorf("failed to compress value: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress value: %w", err)
	}

	return VersionMarker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode deserializes text written by Encode or by the legacy JSON schema into v.
func Decode(text string, v interface{}) error {
	if IsLegacy(text) {
		if err := json.Unmarshal([]byte(text), v); err != nil {
			return fmt.Errorf("failed to parse legacy value: %w", err)
		}
		return nil
	}

	payload, ok := strings.CutPrefix(text, VersionMarker)
	if !ok {
		return ErrUnknownFormat
	}

	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to open compressed value: %w", err)
	}
	defer zr.Close()

	packed, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("failed to decompress value: %w", err)
	}

	if err := msgpack.Unmarshal(packed, v); err != nil {
		return fmt.Errorf("failed to unpack value: %w", err)
	}
	return nil
}
