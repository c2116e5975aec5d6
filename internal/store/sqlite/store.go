// Package sqlite persists the rate cache and shipments in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/uspsbridge/internal/store/sqlite/migrations"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored timestamps compare as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides a SQLite-backed rate cache and shipment store.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite store at the provided path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetClock replaces the time source used for cache expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeFormat, v)
}

// GetIfValid returns the cached rates for key while now < expires_at.
func (s *Store) GetIfValid(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var data string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT rates_data FROM usps_rate_cache WHERE cache_key = ? AND expires_at > ?`,
		key, formatTime(s.now()),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get rate cache entry: %w", err)
	}
	return []byte(data), true, nil
}

// Upsert inserts or refreshes the cache entry for key.
func (s *Store) Upsert(ctx context.Context, key string, params, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO usps_rate_cache (cache_key, request_params, rates_data, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
    request_params = excluded.request_params,
    rates_data = excluded.rates_data,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`,
		key, string(params), string(value), formatTime(now.Add(ttl)), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert rate cache entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM usps_rate_cache WHERE expires_at <= ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired rate cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of cache rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM usps_rate_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rate cache entries: %w", err)
	}
	return n, nil
}

// SaveShipment inserts a shipment or replaces the one with the same tracking number.
func (s *Store) SaveShipment(ctx context.Context, sh *shipper.Shipment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sh == nil || strings.TrimSpace(sh.TrackingNumber) == "" {
		return fmt.Errorf("tracking number is required")
	}
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	if sh.UpdatedAt.IsZero() {
		sh.UpdatedAt = s.now()
	}
	if sh.ShippedAt.IsZero() {
		sh.ShippedAt = sh.UpdatedAt
	}

	row, err := encodeShipment(sh)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO usps_shipments (
    id, tracking_number, carrier, service_type, from_address, to_address, weight,
    dimensions, cost, label_url, label_data, status, tracking_events, metadata,
    shipped_at, delivered_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tracking_number) DO UPDATE SET
    carrier = excluded.carrier,
    service_type = excluded.service_type,
    from_address = excluded.from_address,
    to_address = excluded.to_address,
    weight = excluded.weight,
    dimensions = excluded.dimensions,
    cost = excluded.cost,
    label_url = excluded.label_url,
    label_data = excluded.label_data,
    status = excluded.status,
    tracking_events = excluded.tracking_events,
    metadata = excluded.metadata,
    shipped_at = excluded.shipped_at,
    delivered_at = excluded.delivered_at,
    updated_at = excluded.updated_at`,
		sh.ID, sh.TrackingNumber, sh.Carrier, sh.ServiceType, row.from, row.to, sh.Weight,
		row.dimensions, sh.Cost, sh.LabelURL, sh.LabelData, string(sh.Status), row.events, row.metadata,
		formatTime(sh.ShippedAt), row.deliveredAt, formatTime(sh.UpdatedAt), formatTime(sh.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save shipment %s: %w", sh.TrackingNumber, err)
	}
	return nil
}

const shipmentColumns = `id, tracking_number, carrier, service_type, from_address, to_address, weight,
    dimensions, cost, label_url, label_data, status, tracking_events, metadata,
    shipped_at, delivered_at, updated_at`

// GetShipment loads a shipment by tracking number.
func (s *Store) GetShipment(ctx context.Context, trackingNumber string) (*shipper.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM usps_shipments WHERE tracking_number = ?`, trackingNumber)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shipper.ErrShipmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment %s: %w", trackingNumber, err)
	}
	return sh, nil
}

// ListShipments returns matching shipments ordered by ship time.
func (s *Store) ListShipments(ctx context.Context, filter shipper.ShipmentFilter) ([]*shipper.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if len(filter.TrackingNumbers) > 0 {
		where = append(where, "tracking_number IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.TrackingNumbers)), ",")+")")
		for _, tn := range filter.TrackingNumbers {
			args = append(args, tn)
		}
	}
	if !filter.ShippedSince.IsZero() {
		where = append(where, "shipped_at >= ?")
		args = append(args, formatTime(filter.ShippedSince))
	}
	if filter.ActiveOnly {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, string(shipper.StatusDelivered), string(shipper.StatusReturned))
	}

	query := `SELECT ` + shipmentColumns + ` FROM usps_shipments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY shipped_at, tracking_number"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	var out []*shipper.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// UpdateTracking applies a tracking result to a stored shipment.
func (s *Store) UpdateTracking(ctx context.Context, trackingNumber string, res *shipper.TrackingResult, now time.Time) error {
	sh, err := s.GetShipment(ctx, trackingNumber)
	if err != nil {
		return err
	}
	sh.ApplyTracking(res, now)

	events, err := json.Marshal(sh.Events)
	if err != nil {
		return fmt.Errorf("encode tracking events: %w", err)
	}
	var deliveredAt sql.NullString
	if sh.DeliveredAt != nil {
		deliveredAt = sql.NullString{String: formatTime(*sh.DeliveredAt), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx, `
UPDATE usps_shipments
SET status = ?, tracking_events = ?, delivered_at = ?, updated_at = ?
WHERE tracking_number = ?`,
		string(sh.Status), string(events), deliveredAt, formatTime(now), trackingNumber,
	)
	if err != nil {
		return fmt.Errorf("update tracking %s: %w", trackingNumber, err)
	}
	return nil
}

type shipmentRow struct {
	from, to    string
	dimensions  string
	events      sql.NullString
	metadata    sql.NullString
	deliveredAt sql.NullString
}

func encodeShipment(sh *shipper.Shipment) (shipmentRow, error) {
	var row shipmentRow
	from, err := json.Marshal(sh.FromAddress)
	if err != nil {
		return row, fmt.Errorf("encode from address: %w", err)
	}
	to, err := json.Marshal(sh.ToAddress)
	if err != nil {
		return row, fmt.Errorf("encode to address: %w", err)
	}
	dims, err := json.Marshal(sh.Dimensions)
	if err != nil {
		return row, fmt.Errorf("encode dimensions: %w", err)
	}
	row.from, row.to, row.dimensions = string(from), string(to), string(dims)

	if len(sh.Events) > 0 {
		events, err := json.Marshal(sh.Events)
		if err != nil {
			return row, fmt.Errorf("encode tracking events: %w", err)
		}
		row.events = sql.NullString{String: string(events), Valid: true}
	}
	if len(sh.Metadata) > 0 {
		meta, err := json.Marshal(sh.Metadata)
		if err != nil {
			return row, fmt.Errorf("encode metadata: %w", err)
		}
		row.metadata = sql.NullString{String: string(meta), Valid: true}
	}
	if sh.DeliveredAt != nil {
		row.deliveredAt = sql.NullString{String: formatTime(*sh.DeliveredAt), Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShipment(sc scanner) (*shipper.Shipment, error) {
	var (
		sh                           shipper.Shipment
		from, to                     string
		dims, labelURL, events, meta sql.NullString
		cost                         sql.NullFloat64
		status, shippedAt, updatedAt string
		deliveredAt                  sql.NullString
	)
	err := sc.Scan(
		&sh.ID, &sh.TrackingNumber, &sh.Carrier, &sh.ServiceType, &from, &to, &sh.Weight,
		&dims, &cost, &labelURL, &sh.LabelData, &status, &events, &meta,
		&shippedAt, &deliveredAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sh.Status = shipper.ShipmentStatus(status)
	sh.Cost = cost.Float64
	sh.LabelURL = labelURL.String

	if err := json.Unmarshal([]byte(from), &sh.FromAddress); err != nil {
		return nil, fmt.Errorf("decode from address: %w", err)
	}
	if err := json.Unmarshal([]byte(to), &sh.ToAddress); err != nil {
		return nil, fmt.Errorf("decode to address: %w", err)
	}
	if dims.Valid && dims.String != "" {
		if err := json.Unmarshal([]byte(dims.String), &sh.Dimensions); err != nil {
			return nil, fmt.Errorf("decode dimensions: %w", err)
		}
	}
	if events.Valid && events.String != "" {
		if err := json.Unmarshal([]byte(events.String), &sh.Events); err != nil {
			return nil, fmt.Errorf("decode tracking events: %w", err)
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &sh.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	if sh.ShippedAt, err = parseTime(shippedAt); err != nil {
		return nil, fmt.Errorf("parse shipped_at: %w", err)
	}
	if sh.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if deliveredAt.Valid {
		t, err := parseTime(deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse delivered_at: %w", err)
		}
		sh.DeliveredAt = &t
	}
	return &sh, nil
}

var (
	_ shipper.RateCache     = (*Store)(nil)
	_ shipper.ShipmentStore = (*Store)(nil)
)
