package telemetry_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/logger"
	"procodus.dev/telemetry-hub/pkg/metrics"
)

func openMemoryDB() *gorm.DB {
	db, err := telemetry.NewDB(&telemetry.DBConfig{
		Logger: logger.Discard(),
		Driver: telemetry.DriverSQLite,
		Path:   ":memory:",
	})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		_ = telemetry.CloseDB(db, logger.Discard())
	})
	return db
}

// steppingClock advances by one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func radio(p, gx, gy, gz float64) *telemetry.Record {
	return &telemetry.Record{Source: telemetry.SourceRadio, Pressure: &p, GX: &gx, GY: &gy, GZ: &gz}
}

func network(fields map[string]float64) *telemetry.Record {
	r := &telemetry.Record{Source: telemetry.SourceNetwork}
	for k, v := range fields {
		switch k {
		case "temperature":
			r.Temperature = &v
		case "humidity":
			r.Humidity = &v
		case "latitude":
			r.Latitude = &v
		case "longitude":
			r.Longitude = &v
		}
	}
	return r
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		db    *gorm.DB
		store *telemetry.GormStore
		start time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openMemoryDB()
		start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		s, err := telemetry.NewStore(db, nil)
		Expect(err).NotTo(HaveOccurred())
		store = s.WithClock(steppingClock(start))
	})

	Describe("NewStore", func() {
		It("should require a database", func() {
			_, err := telemetry.NewStore(nil, nil)
			Expect(err).To(MatchError(ContainSubstring("database cannot be nil")))
		})
	})

	Describe("Append", func() {
		It("should assign id and timestamp, ignoring caller values", func() {
			r := radio(1000, 1, 2, 3)
			r.ID = 77
			r.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

			Expect(store.Append(ctx, r)).To(Succeed())
			Expect(r.ID).To(BeNumerically(">", 0))
			Expect(r.ID).NotTo(BeEquivalentTo(77))
			Expect(r.Timestamp).To(Equal(start.Add(time.Second)))
		})

		It("should assign increasing ids", func() {
			a, b := radio(1, 0, 0, 0), radio(2, 0, 0, 0)
			Expect(store.Append(ctx, a)).To(Succeed())
			Expect(store.Append(ctx, b)).To(Succeed())
			Expect(b.ID).To(BeNumerically(">", a.ID))
		})

		It("should keep absent fields NULL", func() {
			Expect(store.Append(ctx, radio(1000, 1, 2, 3))).To(Succeed())

			var stored telemetry.Record
			Expect(db.First(&stored).Error).To(Succeed())
			Expect(stored.Temperature).To(BeNil())
			Expect(stored.Humidity).To(BeNil())
			Expect(stored.Latitude).To(BeNil())
			Expect(stored.Longitude).To(BeNil())
		})

		DescribeTable("refusing records outside their field group",
			func(r *telemetry.Record) {
				err := store.Append(ctx, r)

				var ie *telemetry.InternalError
				Expect(errors.As(err, &ie)).To(BeTrue())

				n, err := store.Count(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
			},
			Entry("radio with temperature", func() *telemetry.Record {
				r := radio(1, 1, 1, 1)
				r.Temperature = ptr(20)
				return r
			}()),
			Entry("network with pressure", func() *telemetry.Record {
				r := network(map[string]float64{"temperature": 20})
				r.Pressure = ptr(1000)
				return r
			}()),
			Entry("network with a gyro axis", func() *telemetry.Record {
				r := network(map[string]float64{"humidity": 20})
				r.GZ = ptr(1)
				return r
			}()),
			Entry("unknown source", &telemetry.Record{Source: "satellite"}),
			Entry("nil record", nil),
		)

		It("should accept concurrent writers from both transports", func() {
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(2)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(store.Append(ctx, radio(float64(i), 1, 2, 3))).To(Succeed())
				}()
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(store.Append(ctx, network(map[string]float64{"temperature": float64(i)}))).To(Succeed())
				}()
			}
			wg.Wait()

			n, err := store.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(40))
		})
	})

	Describe("Snapshot", func() {
		It("should default every field to zero without history", func() {
			snap, err := store.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal(telemetry.Snapshot{}))
		})

		It("should combine the latest value of each field across sources", func() {
			Expect(store.Append(ctx, network(map[string]float64{
				"temperature": 21.5, "humidity": 40, "latitude": 55.75, "longitude": 37.62,
			}))).To(Succeed())
			Expect(store.Append(ctx, radio(1013.25, 1, 2, 3))).To(Succeed())

			snap, err := store.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap).To(Equal(telemetry.Snapshot{
				Temperature: 21.5,
				Humidity:    40,
				Pressure:    1013.25,
				Location:    telemetry.Location{Lat: 55.75, Lon: 37.62},
			}))
		})

		It("should keep a latitude when a later record has none", func() {
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 20, "humidity": 30, "latitude": 10}))).To(Succeed())
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 25, "humidity": 35}))).To(Succeed())

			snap, err := store.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Temperature).To(Equal(25.0))
			Expect(snap.Location.Lat).To(Equal(10.0))
			Expect(snap.Location.Lon).To(BeZero())
		})

		It("should report 0/0 when no record ever had a location", func() {
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 20, "humidity": 30}))).To(Succeed())

			snap, err := store.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Location).To(Equal(telemetry.Location{}))
		})

		It("should not let a stored zero be overridden by older values", func() {
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 30}))).To(Succeed())
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 0}))).To(Succeed())

			snap, err := store.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Temperature).To(BeZero())
		})

		It("should break timestamp ties by id", func() {
			tied := store.WithClock(func() time.Time { return start })

			Expect(tied.Append(ctx, radio(900, 0, 0, 0))).To(Succeed())
			Expect(tied.Append(ctx, radio(950, 0, 0, 0))).To(Succeed())

			snap, err := tied.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Pressure).To(Equal(950.0))
		})
	})

	Describe("Logs", func() {
		It("should return records newest first with absent values marked", func() {
			Expect(store.Append(ctx, radio(1000, 1, 2, 3))).To(Succeed())
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 20, "humidity": 0}))).To(Succeed())

			entries, err := store.Logs(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))

			Expect(entries[0].Source).To(Equal(telemetry.SourceNetwork))
			Expect(entries[0].Humidity.String()).To(Equal("0"))
			Expect(entries[0].Pressure.String()).To(Equal(telemetry.NotAvailable))
			Expect(entries[1].Source).To(Equal(telemetry.SourceRadio))
			Expect(entries[1].Temperature.String()).To(Equal(telemetry.NotAvailable))
			Expect(entries[1].GY.Value).To(Equal(2.0))
		})

		It("should cap the default view at 300 rows", func() {
			records := make([]telemetry.Record, 305)
			for i := range records {
				records[i] = telemetry.Record{
					Source:    telemetry.SourceRadio,
					Timestamp: start.Add(time.Duration(i) * time.Second),
					Pressure:  ptr(float64(i)),
					GX:        ptr(0), GY: ptr(0), GZ: ptr(0),
				}
			}
			Expect(db.CreateInBatches(records, 100).Error).To(Succeed())

			entries, err := store.Logs(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(telemetry.DefaultLogLimit))
			Expect(entries[0].Pressure.Value).To(Equal(304.0))
			Expect(entries[299].Pressure.Value).To(Equal(5.0))

			few, err := store.Logs(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(few).To(HaveLen(3))
		})

		It("should order equal timestamps by id descending", func() {
			tied := store.WithClock(func() time.Time { return start })
			first, second := radio(1, 0, 0, 0), radio(2, 0, 0, 0)
			Expect(tied.Append(ctx, first)).To(Succeed())
			Expect(tied.Append(ctx, second)).To(Succeed())

			entries, err := tied.Logs(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries[0].ID).To(Equal(second.ID))
			Expect(entries[1].ID).To(Equal(first.ID))
		})
	})

	Describe("Orientation", func() {
		It("should be the zero vector without radio history", func() {
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 20}))).To(Succeed())

			o, err := store.Orientation(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(o).To(Equal(telemetry.Orientation{}))
		})

		It("should take all three axes from the latest radio record", func() {
			Expect(store.Append(ctx, radio(1000, 1, 2, 3))).To(Succeed())
			Expect(store.Append(ctx, radio(1000, 1.5, -2, 0))).To(Succeed())
			Expect(store.Append(ctx, network(map[string]float64{"temperature": 20}))).To(Succeed())

			o, err := store.Orientation(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(o).To(Equal(telemetry.Orientation{Roll: 1.5, Pitch: -2, Yaw: 0}))
		})

		It("should skip records with an incomplete vector", func() {
			Expect(store.Append(ctx, radio(1000, 4, 5, 6))).To(Succeed())
			Expect(db.Create(&telemetry.Record{
				Source:    telemetry.SourceRadio,
				Timestamp: start.Add(time.Hour),
				Pressure:  ptr(1000),
				GX:        ptr(9),
			}).Error).To(Succeed())

			o, err := store.Orientation(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(o).To(Equal(telemetry.Orientation{Roll: 4, Pitch: 5, Yaw: 6}))
		})
	})

	Describe("Ping", func() {
		It("should reach the database", func() {
			Expect(store.Ping(ctx)).To(Succeed())
		})
	})

	Describe("Metrics", func() {
		It("should count operations by status", func() {
			reg := prometheus.NewRegistry()
			m := metrics.NewBackendMetrics("test", reg)
			s, err := telemetry.NewStore(db, m)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Append(ctx, radio(1, 1, 1, 1))).To(Succeed())
			Expect(s.Append(ctx, &telemetry.Record{Source: "bad"})).NotTo(Succeed())
			_, err = s.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("insert", "success"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("insert", "error"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("snapshot", "success"))).To(Equal(1.0))
		})
	})
})

var _ = Describe("NewDB", func() {
	DescribeTable("configuration errors",
		func(cfg *telemetry.DBConfig, msg string) {
			_, err := telemetry.NewDB(cfg)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("nil config", nil, "database config cannot be nil"),
		Entry("nil logger", &telemetry.DBConfig{Driver: telemetry.DriverSQLite, Path: ":memory:"}, "logger cannot be nil"),
		Entry("unknown driver", &telemetry.DBConfig{Logger: logger.Discard(), Driver: "oracle"}, "unsupported database driver"),
		Entry("sqlite without path", &telemetry.DBConfig{Logger: logger.Discard(), Driver: telemetry.DriverSQLite}, "sqlite path cannot be empty"),
		Entry("postgres without host", &telemetry.DBConfig{Logger: logger.Discard(), Driver: telemetry.DriverPostgres}, "database host cannot be empty"),
	)

	It("should migrate the telemetry table", func() {
		db := openMemoryDB()
		Expect(db.Migrator().HasTable("telemetry")).To(BeTrue())
		Expect(db.Migrator().HasIndex(&telemetry.Record{}, "idx_telemetry_timestamp_id")).To(BeTrue())
	})
})
