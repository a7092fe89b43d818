package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/carpool/internal/models"
)

// uniqueViolation is the SQLSTATE Postgres reports for a broken unique index.
const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return p.run(ctx, nil, fn)
}

func (p *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return p.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (p *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

type pgTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) InsertUser(ctx context.Context, u *models.User) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO users(alias, name, car_plate) VALUES($1,$2,$3) RETURNING id`,
		u.Alias, u.Name, nullString(u.CarPlate)).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapErr(err))
	}
	return nil
}

const userColumns = `id, alias, name, COALESCE(car_plate, '')`

func scanUser(s scanner) (models.User, error) {
	var u models.User
	err := s.Scan(&u.ID, &u.Alias, &u.Name, &u.CarPlate)
	return u, err
}

func (t *pgTx) UserByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (t *pgTx) UserByAlias(ctx context.Context, alias string) (models.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE alias=$1`, alias))
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (t *pgTx) ListUsers(ctx context.Context, offset, limit int) ([]models.User, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id OFFSET $1 LIMIT $2`,
		max(offset, 0), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertRide(ctx context.Context, r *models.Ride) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO rides(scheduled_at, final_address, allowed_spaces, driver_id, status) VALUES($1,$2,$3,$4,$5) RETURNING id, version`,
		r.ScheduledAt.UTC(), r.FinalAddress, r.AllowedSpaces, r.DriverID, string(r.Status)).Scan(&r.ID, &r.Version)
	if err != nil {
		return fmt.Errorf("insert ride: %w", mapErr(err))
	}
	return nil
}

const rideColumns = `id, scheduled_at, final_address, allowed_spaces, driver_id, status, version`

func scanRide(s scanner) (models.Ride, error) {
	var (
		r      models.Ride
		status string
	)
	if err := s.Scan(&r.ID, &r.ScheduledAt, &r.FinalAddress, &r.AllowedSpaces, &r.DriverID, &status, &r.Version); err != nil {
		return models.Ride{}, err
	}
	st, err := models.ParseRideStatus(status)
	if err != nil {
		return models.Ride{}, err
	}
	r.Status = st
	return r, nil
}

func (t *pgTx) RideByID(ctx context.Context, id int64) (models.Ride, error) {
	r, err := scanRide(t.tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if err != nil {
		return models.Ride{}, mapErr(err)
	}
	return r, nil
}

func (t *pgTx) LockRide(ctx context.Context, id int64) (models.Ride, error) {
	r, err := scanRide(t.tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return models.Ride{}, mapErr(err)
	}
	return r, nil
}

func (t *pgTx) UpdateRideStatus(ctx context.Context, id int64, status models.RideStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE rides SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	return affectedOne(res)
}

func (t *pgTx) BumpRideVersion(ctx context.Context, id int64) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx, `UPDATE rides SET version = version + 1 WHERE id=$1 RETURNING version`, id).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("bump ride version: %w", mapErr(err))
	}
	return v, nil
}

func (t *pgTx) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+rideColumns+` FROM rides
		 WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR driver_id = $2)
		 ORDER BY id OFFSET $3 LIMIT $4`,
		string(f.Status), f.DriverID, max(f.Offset, 0), limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertParticipation(ctx context.Context, p *models.Participation) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO ride_participations(ride_id, participant_id, destination, occupied_spaces, status, confirmed_at)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		p.RideID, p.ParticipantID, p.Destination, p.OccupiedSpaces, string(p.Status), nullTime(p.ConfirmedAt)).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert participation: %w", mapErr(err))
	}
	return nil
}

const participationColumns = `id, ride_id, participant_id, destination, occupied_spaces, status, confirmed_at`

func scanParticipation(s scanner) (models.Participation, error) {
	var (
		p         models.Participation
		status    string
		confirmed sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.RideID, &p.ParticipantID, &p.Destination, &p.OccupiedSpaces, &status, &confirmed); err != nil {
		return models.Participation{}, err
	}
	st, err := models.ParseParticipationStatus(status)
	if err != nil {
		return models.Participation{}, err
	}
	p.Status = st
	if confirmed.Valid {
		at := confirmed.Time
		p.ConfirmedAt = &at
	}
	return p, nil
}

func (t *pgTx) ParticipationsByRide(ctx context.Context, rideID int64) ([]models.Participation, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+participationColumns+` FROM ride_participations WHERE ride_id=$1 ORDER BY id`, rideID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()
	out := make([]models.Participation, 0)
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ParticipationFor(ctx context.Context, rideID, participantID int64) (models.Participation, error) {
	p, err := scanParticipation(t.tx.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM ride_participations WHERE ride_id=$1 AND participant_id=$2`,
		rideID, participantID))
	if err != nil {
		return models.Participation{}, mapErr(err)
	}
	return p, nil
}

func (t *pgTx) UpdateParticipation(ctx context.Context, p models.Participation) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ride_participations SET status=$1, confirmed_at=$2 WHERE id=$3`,
		string(p.Status), nullTime(p.ConfirmedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update participation: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// limitArg turns "no limit" into SQL NULL, which LIMIT treats as ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
