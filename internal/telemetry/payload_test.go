package telemetry_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/telemetry-hub/internal/telemetry"
)

func ptr(v float64) *float64 { return &v }

var _ = Describe("NormalizePayload", func() {
	It("should keep every network field and set the source", func() {
		rec, err := telemetry.NormalizePayload(telemetry.Payload{
			"temperature": 21.5,
			"humidity":    40.0,
			"latitude":    55.75,
			"longitude":   37.62,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Source).To(Equal(telemetry.SourceNetwork))
		Expect(rec.Temperature).To(Equal(ptr(21.5)))
		Expect(rec.Humidity).To(Equal(ptr(40)))
		Expect(rec.Latitude).To(Equal(ptr(55.75)))
		Expect(rec.Longitude).To(Equal(ptr(37.62)))
		Expect(rec.Pressure).To(BeNil())
		Expect(rec.GX).To(BeNil())
		Expect(rec.GY).To(BeNil())
		Expect(rec.GZ).To(BeNil())
	})

	It("should store absent temperature and humidity as zero", func() {
		rec, err := telemetry.NormalizePayload(telemetry.Payload{"latitude": 1.0})
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Temperature).To(Equal(ptr(0)))
		Expect(rec.Humidity).To(Equal(ptr(0)))
	})

	It("should store null temperature and humidity as zero", func() {
		rec, err := telemetry.NormalizePayload(telemetry.Payload{"temperature": nil, "humidity": nil})
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Temperature).To(Equal(ptr(0)))
		Expect(rec.Humidity).To(Equal(ptr(0)))
	})

	It("should leave absent or null coordinates absent, each on its own", func() {
		rec, err := telemetry.NormalizePayload(telemetry.Payload{"temperature": 20.0, "latitude": nil, "longitude": 3.0})
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Latitude).To(BeNil())
		Expect(rec.Longitude).To(Equal(ptr(3)))
	})

	It("should ignore unrelated keys", func() {
		rec, err := telemetry.NormalizePayload(telemetry.Payload{
			"temperature": 20.0,
			"timestamp":   "2026-01-01T00:00:00",
			"pressure":    999.0,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Pressure).To(BeNil())
	})

	DescribeTable("numeric coercion",
		func(raw any, expected float64) {
			rec, err := telemetry.NormalizePayload(telemetry.Payload{"temperature": raw})
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.Temperature).To(Equal(expected))
		},
		Entry("float64", 21.5, 21.5),
		Entry("int", 21, 21.0),
		Entry("json.Number", json.Number("21.25"), 21.25),
		Entry("numeric string", "21.5", 21.5),
		Entry("padded numeric string", " -3 ", -3.0),
	)

	DescribeTable("rejected values",
		func(raw any) {
			rec, err := telemetry.NormalizePayload(telemetry.Payload{"humidity": raw})
			Expect(err).To(MatchError(telemetry.ErrInvalidNumeric))
			Expect(rec).To(BeNil())
		},
		Entry("word", "humid"),
		Entry("empty string", ""),
		Entry("bool", true),
		Entry("object", map[string]any{"v": 1}),
		Entry("array", []any{1.0}),
		Entry("NaN string", "NaN"),
		Entry("infinite string", "Inf"),
	)

	It("should reject the whole payload when one coordinate is bad", func() {
		_, err := telemetry.NormalizePayload(telemetry.Payload{"temperature": 20.0, "longitude": "east"})
		Expect(err).To(MatchError(telemetry.ErrInvalidNumeric))
	})

	It("should report an empty payload as missing data", func() {
		_, err := telemetry.NormalizePayload(telemetry.Payload{})
		Expect(err).To(MatchError(telemetry.ErrNoData))

		_, err = telemetry.NormalizePayload(nil)
		Expect(err).To(MatchError(telemetry.ErrNoData))
	})
})

var _ = Describe("DecodePayload", func() {
	It("should keep numbers exact", func() {
		p, err := telemetry.DecodePayload([]byte(`{"temperature": 21.123456789012345, "humidity": null}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(p["temperature"]).To(Equal(json.Number("21.123456789012345")))
		Expect(p).To(HaveKeyWithValue("humidity", BeNil()))
	})

	DescribeTable("bodies without data",
		func(body string) {
			_, err := telemetry.DecodePayload([]byte(body))
			Expect(err).To(MatchError(telemetry.ErrNoData))
		},
		Entry("empty", ""),
		Entry("whitespace", "  \n"),
		Entry("not json", "temperature=20"),
		Entry("array", `[1, 2]`),
		Entry("string", `"hello"`),
	)

	It("should decode null into an empty payload", func() {
		p, err := telemetry.DecodePayload([]byte(`null`))
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeEmpty())
	})
})
