package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateZone inserts a zone row.
func (s *Store) CreateZone(z Zone) error {
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO zones (id, name, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?)`,
		z.ID, z.Name, nullFloat(z.Latitude), nullFloat(z.Longitude), z.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting zone: %w", err)
	}
	return nil
}

// GetZone returns the zone with the given id, or ErrNotFound.
func (s *Store) GetZone(id string) (Zone, error) {
	var (
		z        Zone
		lat, lon sql.NullFloat64
	)
	err := s.db.QueryRow(
		`SELECT id, name, latitude, longitude, created_at FROM zones WHERE id = ?`, id,
	).Scan(&z.ID, &z.Name, &lat, &lon, &z.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Zone{}, ErrNotFound
	}
	if err != nil {
		return Zone{}, fmt.Errorf("loading zone %s: %w", id, err)
	}
	z.Latitude = floatPtr(lat)
	z.Longitude = floatPtr(lon)
	return z, nil
}

// InsertReading stores one sensor reading.
func (s *Store) InsertReading(r SensorReading) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO sensor_readings
		 (id, zone_id, ts, soil_moisture, ph, temperature, phosphorus, potassium, humidity, nitrogen, rainfall, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ZoneID, r.Timestamp,
		nullFloat(r.SoilMoisture), nullFloat(r.PH), nullFloat(r.Temperature),
		nullFloat(r.Phosphorus), nullFloat(r.Potassium), nullFloat(r.Humidity),
		nullFloat(r.Nitrogen), nullFloat(r.Rainfall),
		r.Source, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// ReadingsInWindow returns the zone's readings with ts in [start, end),
// ordered by timestamp ascending.
func (s *Store) ReadingsInWindow(zoneID string, start, end time.Time) ([]SensorReading, error) {
	rows, err := s.db.Query(
		`SELECT id, zone_id, ts, soil_moisture, ph, temperature, phosphorus, potassium, humidity, nitrogen, rainfall, source, created_at
		 FROM sensor_readings
		 WHERE zone_id = ? AND ts >= ? AND ts < ?
		 ORDER BY ts ASC`,
		zoneID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []SensorReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// LatestReading returns the most recent reading for a zone, or ErrNotFound.
func (s *Store) LatestReading(zoneID string) (SensorReading, error) {
	row := s.db.QueryRow(
		`SELECT id, zone_id, ts, soil_moisture, ph, temperature, phosphorus, potassium, humidity, nitrogen, rainfall, source, created_at
		 FROM sensor_readings
		 WHERE zone_id = ?
		 ORDER BY ts DESC
		 LIMIT 1`,
		zoneID,
	)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorReading{}, ErrNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (SensorReading, error) {
	var (
		r                                SensorReading
		sm, ph, temp, p, k, hum, n, rain sql.NullFloat64
	)
	err := row.Scan(
		&r.ID, &r.ZoneID, &r.Timestamp,
		&sm, &ph, &temp, &p, &k, &hum, &n, &rain,
		&r.Source, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorReading{}, sql.ErrNoRows
	}
	if err != nil {
		return SensorReading{}, fmt.Errorf("scanning reading: %w", err)
	}
	r.SoilMoisture = floatPtr(sm)
	r.PH = floatPtr(ph)
	r.Temperature = floatPtr(temp)
	r.Phosphorus = floatPtr(p)
	r.Potassium = floatPtr(k)
	r.Humidity = floatPtr(hum)
	r.Nitrogen = floatPtr(n)
	r.Rainfall = floatPtr(rain)
	return r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
