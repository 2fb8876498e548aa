package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is a decoded network transport body.
type Payload map[string]any

// NormalizePayload coerces a network payload into a record with source network.
//
// temperature and humidity are always stored: absent or null becomes 0.0. latitude and
// longitude are independently optional and stay NULL when absent or null. A value that is
// present but not numeric rejects the whole payload with ErrInvalidNumeric. A nil or empty
// payload yields ErrNoData.
func NormalizePayload(p Payload) (*Record, error) {
	if len(p) == 0 {
		return nil, ErrNoData
	}

	temperature, err := coerce(p, "temperature")
	if err != nil {
		return nil, err
	}
	humidity, err := coerce(p, "humidity")
	if err != nil {
		return nil, err
	}
	latitude, err := coerce(p, "latitude")
	if err != nil {
		return nil, err
	}
	longitude, err := coerce(p, "longitude")
	if err != nil {
		return nil, err
	}

	return &Record{
		Source:      SourceNetwork,
		Temperature: orZero(temperature),
		Humidity:    orZero(humidity),
		Latitude:    latitude,
		Longitude:   longitude,
	}, nil
}

// DecodePayload parses a JSON body into a Payload, keeping numbers as json.Number so no
// precision is lost before coercion. Anything but a JSON object is ErrNoData.
func DecodePayload(body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrNoData
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	return p, nil
}

// coerce returns nil when key is absent or null.
func coerce(p Payload, key string) (*float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, nil
	}

	v, err := toFloat(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidNumeric, key, err)
	}
	return &v, nil
}

func toFloat(raw any) (float64, error) {
	var (
		v   float64
		err error
	)

	switch n := raw.(type) {
	case json.Number:
		v, err = n.Float64()
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case string:
		v, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil {
		return 0, err
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %v", v)
	}
	return v, nil
}

func orZero(v *float64) *float64 {
	if v != nil {
		return v
	}
	zero := 0.0
	return &zero
}
