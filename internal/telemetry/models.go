// Package telemetry holds the sparse telemetry record model, the two transport decoders that
// produce records, and the append-only store that answers the current-state queries.
package telemetry

import (
	"encoding/json"
	"strconv"
	"time"
)

// Source identifies the transport a record arrived on.
type Source string

const (
	// SourceRadio marks records decoded from the short-range radio frame.
	SourceRadio Source = "radio"
	// SourceNetwork marks records decoded from the network JSON payload.
	SourceNetwork Source = "network"
)

// Valid reports whether s is one of the known transports.
func (s Source) Valid() bool {
	return s == SourceRadio || s == SourceNetwork
}

// Record is one ingestion event. Each transport populates only its own field group; the
// remaining fields are NULL, never zero.
type Record struct {
	Timestamp   time.Time `gorm:"index:idx_telemetry_timestamp_id,priority:1,sort:desc;not null"`
	Source      Source    `gorm:"type:varchar(16);index;not null"`
	Temperature *float64
	Humidity    *float64
	Latitude    *float64
	Longitude   *float64
	Pressure    *float64
	GX          *float64 `gorm:"column:gx"`
	GY          *float64 `gorm:"column:gy"`
	GZ          *float64 `gorm:"column:gz"`
	ID          uint     `gorm:"primaryKey;autoIncrement;index:idx_telemetry_timestamp_id,priority:2,sort:desc"`
}

// TableName specifies the table name for Record.
func (Record) TableName() string {
	return "telemetry"
}

// Snapshot is the field-wise current state: each value comes from the latest record that has
// that field populated, so neighbouring values may come from different records.
type Snapshot struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pressure    float64  `json:"pressure"`
	Location    Location `json:"location"`
}

// Location is the coordinate pair of a Snapshot.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orientation is the attitude taken from the latest record carrying all three gyro axes.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NotAvailable is what a log entry shows in place of an absent reading.
const NotAvailable = "N/A"

// Reading is an optional measurement in a log entry. It encodes as a JSON number when present
// and as NotAvailable otherwise.
type Reading struct {
	Value float64
	Valid bool
}

// ReadingOf converts a nullable column value.
func ReadingOf(v *float64) Reading {
	if v == nil {
		return Reading{}
	}
	return Reading{Value: *v, Valid: true}
}

// String renders the reading the way exports show it.
func (r Reading) String() string {
	if !r.Valid {
		return NotAvailable
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(r.Value)
}

// LogEntry is a record projected verbatim for the audit log.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source"`
	Temperature Reading   `json:"temperature"`
	Humidity    Reading   `json:"humidity"`
	Pressure    Reading   `json:"pressure"`
	Latitude    Reading   `json:"latitude"`
	Longitude   Reading   `json:"longitude"`
	GX          Reading   `json:"gx"`
	GY          Reading   `json:"gy"`
	GZ          Reading   `json:"gz"`
	ID          uint      `json:"id"`
}

// NewLogEntry projects a stored record.
func NewLogEntry(r *Record) LogEntry {
	return LogEntry{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		Source:      r.Source,
		Temperature: ReadingOf(r.Temperature),
		Humidity:    ReadingOf(r.Humidity),
		Pressure:    ReadingOf(r.Pressure),
		Latitude:    ReadingOf(r.Latitude),
		Longitude:   ReadingOf(r.Longitude),
		GX:          ReadingOf(r.GX),
		GY:          ReadingOf(r.GY),
		GZ:          ReadingOf(r.GZ),
	}
}
