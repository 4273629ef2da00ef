// Package encoder converts city partitions to and from file payloads.
//
// Two formats are supported:
//
//   - Parquet: columnar, the default, Snappy compressed
//   - Avro: Object Container File with the schema embedded
//
// Use New to obtain a codec for the configured format:
//
//	codec, err := encoder.New(transit.FormatParquet, "snappy")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data, err := codec.Encode(records)
//
// Decode sniffs the payload's magic bytes ("PAR1" or "Obj\x01") and picks the
// matching decoder, so a store may hold partitions of both formats.
//
// # Schema
//
// Both formats share one logical schema:
//
//	departure_time  timestamp (microseconds, UTC), nullable
//	bus_type        string
//	passengers      int64
//	delay_seconds   int64, nullable
//	delay_raw       string, nullable
//	accident        bool
//
// A delay that failed ISO-8601 parsing is kept verbatim in delay_raw.
//
// Codecs hold no mutable state and are safe for concurrent use.
package encoder
