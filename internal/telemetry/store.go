package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"procodus.dev/telemetry-hub/pkg/metrics"
)

// Log projection limits.
const (
	DefaultLogLimit = 300
	MaxLogLimit     = 5000
)

// latestOrder is the single ordering used by every "latest" query: timestamp, then id for
// records accepted within the same clock tick.
const latestOrder = `"timestamp" DESC, id DESC`

// snapshotFields are reconstructed independently of each other.
var snapshotFields = []string{"temperature", "humidity", "pressure", "latitude", "longitude"}

// snapshotQuery selects, per field, the latest non-null value in one statement so the five
// values come from a single consistent read.
var snapshotQuery = func() string {
	cols := make([]string, len(snapshotFields))
	for i, f := range snapshotFields {
		cols[i] = fmt.Sprintf(
			"(SELECT %[1]s FROM telemetry WHERE %[1]s IS NOT NULL ORDER BY %[2]s LIMIT 1) AS %[1]s",
			f, latestOrder)
	}
	return "SELECT " + strings.Join(cols, ", ")
}()

// Store is the append-only telemetry store and its read views.
type Store interface {
	// Append assigns id and timestamp and writes r atomically.
	Append(ctx context.Context, r *Record) error
	// Snapshot reconstructs the latest non-null value of each snapshot field.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Logs returns up to limit records, newest first.
	Logs(ctx context.Context, limit int) ([]LogEntry, error)
	// Orientation returns the axes of the latest record with all three populated.
	Orientation(ctx context.Context) (Orientation, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// Ping checks the storage engine is reachable.
	Ping(ctx context.Context) error
}

// GormStore implements Store on a gorm connection.
type GormStore struct {
	db      *gorm.DB
	now     func() time.Time
	metrics *metrics.BackendMetrics // Optional metrics
}

var _ Store = (*GormStore)(nil)

// NewStore creates a store on an opened and migrated database.
func NewStore(db *gorm.DB, m *metrics.BackendMetrics) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	return &GormStore{
		db:      db,
		now:     time.Now,
		metrics: m,
	}, nil
}

// WithClock returns a copy of the store that stamps records using now.
func (s *GormStore) WithClock(now func() time.Time) *GormStore {
	c := *s
	c.now = now
	return &c
}

// Append implements Store. Records violating the per-source field groups are refused.
func (s *GormStore) Append(ctx context.Context, r *Record) (err error) {
	defer s.observe("insert", time.Now(), &err)

	if r == nil {
		return Internal("append", errors.New("record cannot be nil"))
	}
	if err := checkFieldGroups(r); err != nil {
		return Internal("append", err)
	}

	r.ID = 0
	r.Timestamp = s.now().UTC().Truncate(time.Microsecond)

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return Internal("append", fmt.Errorf("failed to insert record: %w", err))
	}
	return nil
}

// Snapshot implements Store. Fields with no history read as 0.
func (s *GormStore) Snapshot(ctx context.Context) (snap Snapshot, err error) {
	defer s.observe("snapshot", time.Now(), &err)

	var row struct {
		Temperature *float64
		Humidity    *float64
		Pressure    *float64
		Latitude    *float64
		Longitude   *float64
	}
	if err := s.db.WithContext(ctx).Raw(snapshotQuery).Scan(&row).Error; err != nil {
		return Snapshot{}, Internal("snapshot", err)
	}

	return Snapshot{
		Temperature: valueOrZero(row.Temperature),
		Humidity:    valueOrZero(row.Humidity),
		Pressure:    valueOrZero(row.Pressure),
		Location: Location{
			Lat: valueOrZero(row.Latitude),
			Lon: valueOrZero(row.Longitude),
		},
	}, nil
}

// Logs implements Store. A non-positive limit means DefaultLogLimit; limits above MaxLogLimit
// are capped.
func (s *GormStore) Logs(ctx context.Context, limit int) (entries []LogEntry, err error) {
	defer s.observe("logs", time.Now(), &err)

	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	var records []Record
	if err := s.db.WithContext(ctx).
		Order(latestOrder).
		Limit(limit).
		Find(&records).
		Error; err != nil {
		return nil, Internal("logs", err)
	}

	entries = make([]LogEntry, len(records))
	for i := range records {
		entries[i] = NewLogEntry(&records[i])
	}
	return entries, nil
}

// Orientation implements Store. Without any complete record it returns the zero vector.
func (s *GormStore) Orientation(ctx context.Context) (o Orientation, err error) {
	defer s.observe("orientation", time.Now(), &err)

	var records []Record
	if err := s.db.WithContext(ctx).
		Where("gx IS NOT NULL AND gy IS NOT NULL AND gz IS NOT NULL").
		Order(latestOrder).
		Limit(1).
		Find(&records).
		Error; err != nil {
		return Orientation{}, Internal("orientation", err)
	}

	if len(records) == 0 {
		return Orientation{}, nil
	}

	r := records[0]
	return Orientation{Roll: *r.GX, Pitch: *r.GY, Yaw: *r.GZ}, nil
}

// Count implements Store.
func (s *GormStore) Count(ctx context.Context) (n int64, err error) {
	defer s.observe("count", time.Now(), &err)

	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, Internal("count", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return Internal("ping", err)
	}
	return Internal("ping", sqlDB.PingContext(ctx))
}

func (s *GormStore) observe(op string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if *errp != nil {
		status = "error"
	}
	s.metrics.DBOperationsTotal.WithLabelValues(op, status).Inc()
	s.metrics.DBOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// checkFieldGroups enforces that a record carries only the fields its transport can supply.
func checkFieldGroups(r *Record) error {
	radio := r.Pressure != nil || r.GX != nil || r.GY != nil || r.GZ != nil
	network := r.Temperature != nil || r.Humidity != nil || r.Latitude != nil || r.Longitude != nil

	switch r.Source {
	case SourceRadio:
		if network {
			return errors.New("radio record carries network fields")
		}
	case SourceNetwork:
		if radio {
			return errors.New("network record carries radio fields")
		}
	default:
		return fmt.Errorf("unknown source %q", r.Source)
	}
	return nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
