package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/trip-dispatch/internal/models"
)

// PostgresStore persists trips in Postgres. The compare-and-swap holds a row
// lock for the duration of the check-and-set only.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

const tripColumns = `id, client_id, driver_id, pickup_lat, pickup_lon, pickup_address,
	dropoff_lat, dropoff_lon, dropoff_address, est_distance_km, est_duration_min,
	est_price, final_price, status, emergency, created_at, accepted_at, started_at,
	completed_at, ended_at`

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.ClientID, nullString(t.DriverID),
		t.Pickup.Lat, t.Pickup.Lon, t.Pickup.Address,
		t.Dropoff.Lat, t.Dropoff.Lon, t.Dropoff.Address,
		t.EstimatedDistanceKm, t.EstimatedDurationMin,
		int64(t.EstimatedPrice), nullMoney(t.FinalPrice),
		string(t.Status), t.Emergency, t.CreatedAt,
		t.AcceptedAt, t.StartedAt, t.CompletedAt, t.EndedAt)
	if err != nil {
		return fmt.Errorf("%w: insert trip: %v", ErrDependency, err)
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *PostgresStore) CompareAndSwap(ctx context.Context, id string, from models.TripStatus, apply func(*models.Trip)) (*models.Trip, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin: %v", ErrDependency, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1 FOR UPDATE`, id)
	t, err := scanTrip(row)
	if err != nil {
		return nil, false, err
	}
	if t.Status != from {
		return t, false, nil
	}
	apply(t)
	_, err = tx.ExecContext(ctx, `UPDATE trips SET driver_id=$1, final_price=$2, status=$3,
		emergency=$4, accepted_at=$5, started_at=$6, completed_at=$7, ended_at=$8
		WHERE id=$9`,
		nullString(t.DriverID), nullMoney(t.FinalPrice), string(t.Status),
		t.Emergency, t.AcceptedAt, t.StartedAt, t.CompletedAt, t.EndedAt, t.ID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: update trip: %v", ErrDependency, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: commit: %v", ErrDependency, err)
	}
	return t, true, nil
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM trips WHERE status=$1 AND created_at < $2`,
		string(models.StatusPending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrDependency, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) SetEmergency(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET emergency=true WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("%w: set emergency: %v", ErrDependency, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SaveRating(ctx context.Context, r *models.Rating) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ratings(id, trip_id, rater_id, rated_id, score, feedback, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.TripID, r.RaterID, r.RatedID, r.Score, r.Feedback, r.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyRated
	}
	if err != nil {
		return fmt.Errorf("%w: insert rating: %v", ErrDependency, err)
	}
	return nil
}

func (p *PostgresStore) SaveSample(ctx context.Context, s *models.LocationSample) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO location_samples(trip_id, driver_id, lat, lon, speed_kph, heading_deg, recorded_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		s.TripID, s.DriverID, s.Loc.Lat, s.Loc.Lon, s.SpeedKph, s.HeadingDeg, s.RecordedAt)
	if err != nil {
		return fmt.Errorf("%w: insert sample: %v", ErrDependency, err)
	}
	return nil
}

func (p *PostgresStore) SaveEmergency(ctx context.Context, e *models.EmergencyEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO emergency_events(id, trip_id, raised_by, lat, lon, raised_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		e.ID, e.TripID, e.RaisedBy, e.Loc.Lat, e.Loc.Lon, e.RaisedAt)
	if err != nil {
		return fmt.Errorf("%w: insert emergency: %v", ErrDependency, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var (
		t          models.Trip
		driverID   sql.NullString
		finalPrice sql.NullInt64
		status     string
	)
	err := row.Scan(&t.ID, &t.ClientID, &driverID,
		&t.Pickup.Lat, &t.Pickup.Lon, &t.Pickup.Address,
		&t.Dropoff.Lat, &t.Dropoff.Lon, &t.Dropoff.Address,
		&t.EstimatedDistanceKm, &t.EstimatedDurationMin,
		&t.EstimatedPrice, &finalPrice, &status, &t.Emergency,
		&t.CreatedAt, &t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan trip: %v", ErrDependency, err)
	}
	t.DriverID = driverID.String
	t.Status = models.TripStatus(status)
	if finalPrice.Valid {
		m := models.Money(finalPrice.Int64)
		t.FinalPrice = &m
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMoney(m *models.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*m), Valid: true}
}
