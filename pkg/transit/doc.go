// Package transit defines the domain types shared by ingestion and aggregation.
//
// # Core Types
//
// City is supplied by the reference service and never persisted locally:
//
//	city := transit.City{ID: 7, Name: "Brno", Country: "Czechia"}
//
// Record is one observed bus trip. Its delay is either a number of seconds or,
// when the reference service sent a duration that could not be parsed, the
// original string:
//
//	record := transit.Record{
//	    BusType:    "BUS-101",
//	    Passengers: 42,
//	    Delay:      transit.DelayOf(600),
//	}
//
// # Partitions
//
// PartitionKey identifies one stored batch of records, one per city per day:
//
//	key := transit.PartitionKey{Country: "Czechia", Date: day, City: "Brno"}
//	key.String() // "Czechia/2023-10-01/Brno"
//
// # Summaries
//
// Summary is derived from all records of a country and day and is never
// persisted. CountryStats nests summaries by country and date and only holds
// present entries:
//
//	stats := transit.CountryStats{}
//	stats.Set("Czechia", day, summary)
//
// # Dates
//
// All dates are civil days in UTC formatted as YYYY-MM-DD:
//
//	day, err := transit.ParseDate("2023-10-01")
//	for _, d := range transit.Days(from, to) { ... }
package transit
