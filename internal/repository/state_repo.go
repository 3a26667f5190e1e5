package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"devicesync/internal/models"
)

type StateSQLite struct {
	db *sql.DB
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db}
}

const (
	upsertDeviceStateSQL = `
		INSERT INTO device_state (device_id, confirmed_value, source, last_commit_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			confirmed_value=excluded.confirmed_value,
			source=excluded.source,
			last_commit_at=excluded.last_commit_at,
			updated_at=excluded.updated_at
	`

	selectDeviceStateSQL = `
		SELECT device_id, confirmed_value, source, last_commit_at, updated_at
		FROM device_state WHERE device_id=?
	`

	selectAllDeviceStatesSQL = `
		SELECT device_id, confirmed_value, source, last_commit_at, updated_at
		FROM device_state ORDER BY device_id ASC
	`
)

// Save upserts the confirmed snapshot of one device. Only the confirmed
// value is durable; intent and pending flags belong to the live session.
func (r *StateSQLite) Save(ctx context.Context, s models.DeviceState) error {
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	var lastCommit sql.NullTime
	if !s.LastCommitAt.IsZero() {
		lastCommit = sql.NullTime{Time: s.LastCommitAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, upsertDeviceStateSQL,
		s.DeviceID,
		s.ConfirmedValue,
		string(s.Source),
		lastCommit,
		ts,
	)
	return err
}

// Load fetches the snapshot of deviceID; found is false when none exists.
func (r *StateSQLite) Load(ctx context.Context, deviceID string) (models.DeviceState, bool, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceStateSQL, deviceID)
	s, err := scanDeviceState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeviceState{}, false, nil
		}
		return models.DeviceState{}, false, err
	}
	return s, true, nil
}

// LoadAll returns every stored snapshot ordered by device id.
func (r *StateSQLite) LoadAll(ctx context.Context) ([]models.DeviceState, error) {
	rows, err := r.db.QueryContext(ctx, selectAllDeviceStatesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeviceState
	for rows.Next() {
		s, err := scanDeviceState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeviceState(sc scanner) (models.DeviceState, error) {
	var (
		s          models.DeviceState
		source     string
		lastCommit sql.NullTime
	)
	if err := sc.Scan(&s.DeviceID, &s.ConfirmedValue, &source, &lastCommit, &s.UpdatedAt); err != nil {
		return models.DeviceState{}, err
	}
	s.TargetValue = s.ConfirmedValue
	s.DisplayValue = s.ConfirmedValue
	s.Source = models.Source(source)
	if !s.Source.Valid() {
		s.Source = models.SourceInitial
	}
	if lastCommit.Valid {
		s.LastCommitAt = lastCommit.Time.UTC()
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
