package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/petrsynek/bus-server/pkg/encoder"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Codec = (*AvroEncoder)(nil)

// avroMagic starts every Avro Object Container File.
var avroMagic = []byte("Obj\x01")

// AvroEncoder implements encoder.Codec for the Apache Avro Object Container File format.
// The block codec is one of null, deflate or snappy.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: avroCompressionName(compression),
	}, nil
}

// avroSchema returns the Avro schema for partition records.
// departure_time holds microseconds since the Unix epoch.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "BusTrip",
		"namespace": "com.busserver.partition",
		"fields": [
			{"name": "departure_time", "type": ["null", "long"], "default": null},
			{"name": "bus_type", "type": "string"},
			{"name": "passengers", "type": "long"},
			{"name": "delay_seconds", "type": ["null", "long"], "default": null},
			{"name": "delay_raw", "type": ["null", "string"], "default": null},
			{"name": "accident", "type": "boolean"}
		]
	}`
}

func avroCompressionName(compression string) string {
	switch compression {
	case "deflate", "DEFLATE", "gzip", "GZIP":
		return goavro.CompressionDeflateLabel
	case "snappy", "SNAPPY":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Encode writes records into an in-memory Avro OCF file.
func (e *AvroEncoder) Encode(records []transit.Record) ([]byte, error) {
	var buf bytes.Buffer

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           e.codec,
		CompressionName: e.compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	if len(records) > 0 {
		data := make([]interface{}, len(records))
		for i, record := range records {
			data[i] = toAvroMap(record)
		}
		if err := ocfWriter.Append(data); err != nil {
			return nil, fmt.Errorf("failed to write records: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Decode reads every record of an in-memory Avro OCF file.
func (e *AvroEncoder) Decode(data []byte) ([]transit.Record, error) {
	ocfReader, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF reader: %w", err)
	}

	var records []transit.Record
	for ocfReader.Scan() {
		datum, err := ocfReader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(records), err)
		}
		m, ok := datum.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected avro datum %T", datum)
		}
		record, err := fromAvroMap(m)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
	if err := ocfReader.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan avro: %w", err)
	}

	if records == nil {
		records = []transit.Record{}
	}
	return records, nil
}

func toAvroMap(r transit.Record) map[string]interface{} {
	m := map[string]interface{}{
		"departure_time": nil,
		"bus_type":       r.BusType,
		"passengers":     r.Passengers,
		"delay_seconds":  nil,
		"delay_raw":      nil,
		"accident":       r.Accident,
	}
	if r.DepartureTime != nil {
		m["departure_time"] = goavro.Union("long", r.DepartureTime.UnixMicro())
	}
	if r.Delay.Seconds != nil {
		m["delay_seconds"] = goavro.Union("long", *r.Delay.Seconds)
	}
	if r.Delay.Raw != nil {
		m["delay_raw"] = goavro.Union("string", *r.Delay.Raw)
	}
	return m
}

func fromAvroMap(m map[string]interface{}) (transit.Record, error) {
	var r transit.Record

	busType, ok := m["bus_type"].(string)
	if !ok {
		return r, fmt.Errorf("bus_type: unexpected type %T", m["bus_type"])
	}
	passengers, ok := m["passengers"].(int64)
	if !ok {
		return r, fmt.Errorf("passengers: unexpected type %T", m["passengers"])
	}
	accident, ok := m["accident"].(bool)
	if !ok {
		return r, fmt.Errorf("accident: unexpected type %T", m["accident"])
	}
	r.BusType = busType
	r.Passengers = passengers
	r.Accident = accident

	if v, ok := unionValue(m["departure_time"], "long").(int64); ok {
		t := time.UnixMicro(v).UTC()
		r.DepartureTime = &t
	}
	if v, ok := unionValue(m["delay_seconds"], "long").(int64); ok {
		r.Delay.Seconds = &v
	}
	if v, ok := unionValue(m["delay_raw"], "string").(string); ok {
		r.Delay.Raw = &v
	}
	return r, nil
}

// unionValue unwraps a decoded ["null", T] union, returning nil for null.
func unionValue(v interface{}, branch string) interface{} {
	u, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return u[branch]
}

// Format returns the file format.
func (e *AvroEncoder) Format() transit.FileFormat {
	return transit.FormatAvro
}

// ContentType returns the MIME type of Avro payloads.
func (e *AvroEncoder) ContentType() string {
	return "application/avro"
}
