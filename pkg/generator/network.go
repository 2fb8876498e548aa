package generator

import (
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// NullRates are the probabilities of a network reading losing a sensor.
type NullRates struct {
	Temperature float64
	Humidity    float64
	// Location drops latitude and longitude together, as on a lost GPS fix.
	Location float64
}

// DefaultNullRates mirror the failure rates observed on the network device.
func DefaultNullRates() NullRates {
	return NullRates{
		Temperature: 0.1,
		Humidity:    0.1,
		Location:    0.3,
	}
}

// NetworkGenerator produces network payloads. Humidity is inversely correlated with
// temperature and the position wanders around a home location.
type NetworkGenerator struct {
	faker *gofakeit.Faker
	nulls NullRates

	baselineTemp     float64
	baselineHumidity float64
	lat, lon         float64
}

// NewNetworkGenerator creates a network generator. A zero seed picks a random one.
func NewNetworkGenerator(seed uint64, nulls NullRates) *NetworkGenerator {
	f := gofakeit.New(seed)

	lat, err := f.LatitudeInRange(0, 50)
	if err != nil {
		lat = 25
	}
	lon, err := f.LongitudeInRange(5, 80)
	if err != nil {
		lon = 40
	}

	return &NetworkGenerator{
		faker:            f,
		nulls:            nulls,
		baselineTemp:     f.Float64Range(22, 32),
		baselineHumidity: f.Float64Range(40, 70),
		lat:              lat,
		lon:              lon,
	}
}

// Payload renders one reading. Failed sensors are present with a nil value.
func (g *NetworkGenerator) Payload(t time.Time) map[string]any {
	temperature := g.baselineTemp + 3*math.Sin((float64(t.Hour())-6)*math.Pi/12) +
		g.faker.Float64Range(-0.5, 0.5)
	humidity := g.baselineHumidity - (temperature-g.baselineTemp)*1.5 + g.faker.Float64Range(-1, 1)
	humidity = math.Max(20, math.Min(95, humidity))

	g.lat = math.Max(-90, math.Min(90, g.lat+g.faker.Float64Range(-0.001, 0.001)))
	g.lon = math.Max(-180, math.Min(180, g.lon+g.faker.Float64Range(-0.001, 0.001)))

	p := map[string]any{
		"temperature": round(temperature, 1),
		"humidity":    round(humidity, 1),
		"latitude":    round(g.lat, 6),
		"longitude":   round(g.lon, 6),
		"timestamp":   t.Format(time.RFC3339),
	}

	if g.faker.Float64() < g.nulls.Temperature {
		p["temperature"] = nil
	}
	if g.faker.Float64() < g.nulls.Humidity {
		p["humidity"] = nil
	}
	if g.faker.Float64() < g.nulls.Location {
		p["latitude"] = nil
		p["longitude"] = nil
	}
	return p
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
