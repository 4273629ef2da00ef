// Package encoder defines interfaces for encoding partitions to file formats.
package encoder

import "github.com/petrsynek/bus-server/pkg/transit"

// Encoder serializes a partition's records.
type Encoder interface {
	// Encode returns the encoded partition payload.
	// An empty record set yields a valid payload holding only the schema.
	Encode(records []transit.Record) ([]byte, error)

	// Format returns the file format this encoder produces.
	Format() transit.FileFormat

	// ContentType returns the MIME type used when uploading to object stores.
	ContentType() string
}

// Decoder deserializes a partition payload.
type Decoder interface {
	// Decode returns the records stored in data.
	Decode(data []byte) ([]transit.Record, error)
}

// Codec both encodes and decodes a single format.
type Codec interface {
	Encoder
	Decoder
}
