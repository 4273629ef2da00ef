package encoder

import (
	"bytes"
	"fmt"

	"github.com/petrsynek/bus-server/pkg/encoder"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// New creates a codec for format using compression.
func New(format transit.FileFormat, compression string) (encoder.Codec, error) {
	switch format {
	case transit.FormatParquet:
		return NewParquetEncoder(compression), nil
	case transit.FormatAvro:
		return NewAvroEncoder(compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// DetectFormat identifies a partition payload by its magic bytes.
func DetectFormat(data []byte) (transit.FileFormat, error) {
	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, parquetMagic) && bytes.HasSuffix(data, parquetMagic):
		return transit.FormatParquet, nil
	case bytes.HasPrefix(data, avroMagic):
		return transit.FormatAvro, nil
	default:
		return "", fmt.Errorf("unrecognized partition format (%d bytes)", len(data))
	}
}

// Decode decodes a payload of either supported format, so partitions
// written before a format change stay readable.
func Decode(data []byte) ([]transit.Record, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	codec, err := New(format, DefaultCompression(format))
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []transit.FileFormat {
	return []transit.FileFormat{
		transit.FormatParquet,
		transit.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format transit.FileFormat) []string {
	switch format {
	case transit.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case transit.FormatAvro:
		return []string{"uncompressed", "deflate", "snappy"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format transit.FileFormat) string {
	switch format {
	case transit.FormatParquet:
		return "snappy"
	case transit.FormatAvro:
		return "deflate"
	default:
		return "uncompressed"
	}
}
