package telemetry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/telemetry-hub/internal/telemetry"
)

const sampleFrame = "T:24.10C, P:1013.25hPa, AX:0.01, AY:-0.02, AZ:0.98, GX:1.50, GY:-2.00, GZ:0.00, MX:0.10, MY:0.20, MZ:-0.30"

var _ = Describe("ParseFrame", func() {
	It("should extract pressure and the three gyro axes", func() {
		rec, err := telemetry.ParseFrame(sampleFrame)
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Source).To(Equal(telemetry.SourceRadio))
		Expect(*rec.Pressure).To(Equal(1013.25))
		Expect(*rec.GX).To(Equal(1.5))
		Expect(*rec.GY).To(Equal(-2.0))
		Expect(*rec.GZ).To(Equal(0.0))
	})

	It("should leave every network field absent", func() {
		rec, err := telemetry.ParseFrame(sampleFrame)
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Temperature).To(BeNil())
		Expect(rec.Humidity).To(BeNil())
		Expect(rec.Latitude).To(BeNil())
		Expect(rec.Longitude).To(BeNil())
	})

	DescribeTable("accepted frames",
		func(frame string, pressure, gx, gy, gz float64) {
			rec, err := telemetry.ParseFrame(frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.Pressure).To(Equal(pressure))
			Expect(*rec.GX).To(Equal(gx))
			Expect(*rec.GY).To(Equal(gy))
			Expect(*rec.GZ).To(Equal(gz))
		},
		Entry("fields in another order",
			"GZ:3, GY:2, GX:1, P:900hPa", 900.0, 1.0, 2.0, 3.0),
		Entry("spaces after the colon",
			"P: 1000.5 hPa, GX: -1, GY: +2, GZ: 0.25", 1000.5, -1.0, 2.0, 0.25),
		Entry("exponent notation",
			"P:1.01325e3hPa, GX:1e-1, GY:0, GZ:0", 1013.25, 0.1, 0.0, 0.0),
		Entry("semicolon separators",
			"P:1000hPa;GX:1;GY:2;GZ:3", 1000.0, 1.0, 2.0, 3.0),
	)

	DescribeTable("rejected frames",
		func(frame string, expected error) {
			rec, err := telemetry.ParseFrame(frame)
			Expect(err).To(MatchError(expected))
			Expect(rec).To(BeNil())
		},
		Entry("empty", "", telemetry.ErrNoData),
		Entry("blank", "   ", telemetry.ErrNoData),
		Entry("missing pressure", "T:24.10C, GX:1, GY:2, GZ:3", telemetry.ErrInvalidFormat),
		Entry("pressure without unit", "P:1000, GX:1, GY:2, GZ:3", telemetry.ErrInvalidFormat),
		Entry("missing gz", "P:1000hPa, GX:1, GY:2", telemetry.ErrInvalidFormat),
		Entry("garbage", "hello radio", telemetry.ErrInvalidFormat),
		Entry("unparsable number", "P:1.2.3hPa, GX:1, GY:2, GZ:3", telemetry.ErrInvalidFormat),
	)

	It("should not confuse accelerometer or magnetometer axes with the gyro", func() {
		_, err := telemetry.ParseFrame("P:1000hPa, AX:1, AY:2, AZ:3, MX:1, MY:2, MZ:3")
		Expect(err).To(MatchError(telemetry.ErrInvalidFormat))
	})
})
