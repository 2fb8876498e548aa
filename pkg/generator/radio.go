// Package generator produces synthetic telemetry for both transports: text frames as sent by
// the radio receiver and JSON payloads as sent by the network device.
package generator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// RadioGenerator produces radio frames. Pressure follows a slow random walk and the
// orientation drifts between readings instead of jumping.
type RadioGenerator struct {
	faker *gofakeit.Faker

	baselineTemp     float64
	baselinePressure float64
	lastPressure     float64
	pressureTrend    float64 // Simulates weather system movement

	roll, pitch, yaw float64
}

// NewRadioGenerator creates a radio generator. A zero seed picks a random one.
func NewRadioGenerator(seed uint64) *RadioGenerator {
	f := gofakeit.New(seed)
	baseline := 1013.0 + f.Float64Range(-10, 10)

	return &RadioGenerator{
		faker:            f,
		baselineTemp:     f.Float64Range(18, 28),
		baselinePressure: baseline,
		lastPressure:     baseline,
		pressureTrend:    f.Float64Range(-0.25, 0.25),
		roll:             f.Float64Range(-90, 90),
		pitch:            f.Float64Range(-180, 180),
		yaw:              f.Float64Range(-180, 180),
	}
}

// Frame renders one frame in the receiver's format, for example
// "T:24.10C, P:1013.25hPa, AX:0.01, AY:-0.02, AZ:0.98, GX:1.50, GY:-2.00, GZ:0.00, MX:0.10, MY:0.20, MZ:-0.30".
func (g *RadioGenerator) Frame(t time.Time) string {
	g.roll = drift(g.faker, g.roll, 5, 90)
	g.pitch = drift(g.faker, g.pitch, 10, 180)
	g.yaw = drift(g.faker, g.yaw, 10, 180)

	fields := []string{
		fmt.Sprintf("T:%.2fC", g.temperature(t)),
		fmt.Sprintf("P:%.2fhPa", g.pressure(t)),
		fmt.Sprintf("AX:%.2f", g.faker.Float64Range(-1, 1)),
		fmt.Sprintf("AY:%.2f", g.faker.Float64Range(-1, 1)),
		fmt.Sprintf("AZ:%.2f", g.faker.Float64Range(-1, 1)),
		fmt.Sprintf("GX:%.2f", g.roll),
		fmt.Sprintf("GY:%.2f", g.pitch),
		fmt.Sprintf("GZ:%.2f", g.yaw),
		fmt.Sprintf("MX:%.2f", g.faker.Float64Range(-0.5, 0.5)),
		fmt.Sprintf("MY:%.2f", g.faker.Float64Range(-0.5, 0.5)),
		fmt.Sprintf("MZ:%.2f", g.faker.Float64Range(-0.5, 0.5)),
	}
	return strings.Join(fields, ", ")
}

// temperature follows a daily cycle peaking mid-afternoon.
func (g *RadioGenerator) temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := g.faker.Float64Range(-0.5, 0.5)
	return g.baselineTemp + dailyCycle + noise
}

// pressure is a random walk around the baseline with occasional trend reversals and fronts.
func (g *RadioGenerator) pressure(t time.Time) float64 {
	randomChange := g.faker.Float64Range(-0.25, 0.25)

	// Occasionally reverse trend (10% chance)
	if g.faker.Float64() < 0.1 {
		g.pressureTrend = -g.pressureTrend + g.faker.Float64Range(-0.1, 0.1)
	}

	hour := float64(t.Hour())
	diurnalCycle := 0.5 * math.Sin((hour-3)*math.Pi/12)

	p := g.lastPressure + randomChange + g.pressureTrend + diurnalCycle*0.1
	p = g.baselinePressure + (p-g.baselinePressure)*0.7

	// Occasional weather front (2% chance)
	if g.faker.Float64() < 0.02 {
		front := g.faker.Float64Range(-5, 5)
		p += front
		g.pressureTrend = front * 0.3
	}

	p = math.Max(950, math.Min(1050, p))
	g.lastPressure = p
	return p
}

// drift moves v by at most step and reflects it back into [-limit, limit].
func drift(f *gofakeit.Faker, v, step, limit float64) float64 {
	v += f.Float64Range(-step, step)
	if v > limit {
		v = 2*limit - v
	}
	if v < -limit {
		v = -2*limit - v
	}
	return v
}
