package compression

import (
	"encoding/base64"
	"fmt"
)

// FormatBinaryGzip identifies gzip-compressed ZSTK payloads
const FormatBinaryGzip = "binary_gzip"

// CompressedRenders represents compressed render data ready for transmission
type CompressedRenders struct {
	Format           string `json:"format"`            // "binary_gzip"
	Data             string `json:"data"`              // Base64-encoded compressed data
	Size             int    `json:"size"`              // Compressed size in bytes
	UncompressedSize int    `json:"uncompressed_size"` // Encoded size before gzip
}

// FormatCompressed formats compressed data for JSON transmission
func FormatCompressed(compressedData []byte, uncompressedSize int) *CompressedRenders {
	return &CompressedRenders{
		Format:           FormatBinaryGzip,
		Data:             base64.StdEncoding.EncodeToString(compressedData),
		Size:             len(compressedData),
		UncompressedSize: uncompressedSize,
	}
}

// Bytes decodes the base64 payload
func (c *CompressedRenders) Bytes() ([]byte, error) {
	if c.Format != FormatBinaryGzip {
		return nil, fmt.Errorf("unsupported format %q", c.Format)
	}
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return data, nil
}
