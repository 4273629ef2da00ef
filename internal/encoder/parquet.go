package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/petrsynek/bus-server/pkg/encoder"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Codec = (*ParquetEncoder)(nil)

// parquetMagic starts and ends every Parquet file.
var parquetMagic = []byte("PAR1")

// TripParquet represents the Parquet schema of a partition.
// Optional columns use pointers for proper NULL handling.
type TripParquet struct {
	DepartureTime *time.Time `parquet:"departure_time,timestamp(microsecond),optional"`
	BusType       string     `parquet:"bus_type,dict"`
	Passengers    int64      `parquet:"passengers"`
	DelaySeconds  *int64     `parquet:"delay_seconds,optional"`
	DelayRaw      *string    `parquet:"delay_raw,optional"`
	Accident      bool       `parquet:"accident"`
}

// ParquetEncoder implements encoder.Codec for Apache Parquet columnar format.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records into an in-memory Parquet file.
// Zero records produce a file that carries only the schema.
func (e *ParquetEncoder) Encode(records []transit.Record) ([]byte, error) {
	rows := make([]TripParquet, len(records))
	for i, record := range records {
		rows[i] = toParquetRow(record)
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[TripParquet](
		&buf,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("bus-server", "1.0", "0"),
	)

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to write records: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode reads every row of an in-memory Parquet file.
func (e *ParquetEncoder) Decode(data []byte) ([]transit.Record, error) {
	rows, err := parquet.Read[TripParquet](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}

	records := make([]transit.Record, len(rows))
	for i, row := range rows {
		records[i] = fromParquetRow(row)
	}
	return records, nil
}

func toParquetRow(r transit.Record) TripParquet {
	row := TripParquet{
		BusType:      r.BusType,
		Passengers:   r.Passengers,
		DelaySeconds: r.Delay.Seconds,
		DelayRaw:     r.Delay.Raw,
		Accident:     r.Accident,
	}
	if r.DepartureTime != nil {
		t := r.DepartureTime.UTC()
		row.DepartureTime = &t
	}
	return row
}

func fromParquetRow(row TripParquet) transit.Record {
	r := transit.Record{
		BusType:    row.BusType,
		Passengers: row.Passengers,
		Delay:      transit.Delay{Seconds: row.DelaySeconds, Raw: row.DelayRaw},
		Accident:   row.Accident,
	}
	if row.DepartureTime != nil {
		t := row.DepartureTime.UTC()
		r.DepartureTime = &t
	}
	return r
}

// Format returns the file format.
func (e *ParquetEncoder) Format() transit.FileFormat {
	return transit.FormatParquet
}

// ContentType returns the MIME type of Parquet payloads.
func (e *ParquetEncoder) ContentType() string {
	return "application/vnd.apache.parquet"
}
