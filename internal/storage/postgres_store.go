package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/location-connect/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) UpsertIdentity(ctx context.Context, connID string, role models.Role, name string) (*models.Identity, error) {
	// Full replace: re-selecting a role resets any stored location.
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO identities (connection_id, role, name, last_seen)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (connection_id) DO UPDATE
		SET role = EXCLUDED.role, name = EXCLUDED.name,
		    latitude = NULL, longitude = NULL, accuracy = NULL,
		    last_seen = now()
		RETURNING connection_id, role, name, last_seen`,
		connID, role, name)
	var id models.Identity
	if err := row.Scan(&id.ConnectionID, &id.Role, &id.Name, &id.LastSeen); err != nil {
		return nil, err
	}
	return &id, nil
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, connID string, loc models.Coord) (*models.Identity, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE identities
		SET latitude = $2, longitude = $3, accuracy = $4, last_seen = now()
		WHERE connection_id = $1
		RETURNING connection_id, role, name, latitude, longitude, accuracy, last_seen`,
		connID, loc.Lat, loc.Lng, loc.Accuracy)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoIdentity
	}
	return id, err
}

// RemoveIdentity runs the cascade cancel and the identity delete in one
// transaction: a failure between the two must not leave requests cancelled
// while the identity row survives.
func (p *PostgresStore) RemoveIdentity(ctx context.Context, connID string) ([]models.BookingRequest, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE requests
		SET status = 'cancelled'
		WHERE (requester_id = $1 AND status = 'pending')
		   OR (acceptor_id = $1 AND status IN ('pending', 'accepted'))
		RETURNING id, requester_id, COALESCE(acceptor_id, ''), status, created_at, accepted_at`,
		connID)
	if err != nil {
		return nil, err
	}
	cancelled, err := collectRequests(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE connection_id = $1`, connID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (p *PostgresStore) GetIdentity(ctx context.Context, connID string) (*models.Identity, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT connection_id, role, name, latitude, longitude, accuracy, last_seen
		FROM identities WHERE connection_id = $1`, connID)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoIdentity
	}
	return id, err
}

func (p *PostgresStore) ListByRole(ctx context.Context, role models.Role) ([]models.Identity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT connection_id, role, name, latitude, longitude, accuracy, last_seen
		FROM identities
		WHERE role = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateRequest(ctx context.Context, requesterID string) (*models.BookingRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO requests (requester_id, status, created_at)
		VALUES ($1, 'pending', now())
		RETURNING id, requester_id, COALESCE(acceptor_id, ''), status, created_at, accepted_at`,
		requesterID)
	return scanRequest(row)
}

func (p *PostgresStore) GetRequest(ctx context.Context, id int64) (*models.BookingRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, requester_id, COALESCE(acceptor_id, ''), status, created_at, accepted_at
		FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRequest
	}
	return r, err
}

func (p *PostgresStore) ActiveRequestForRequester(ctx context.Context, connID string) (*models.BookingRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, requester_id, COALESCE(acceptor_id, ''), status, created_at, accepted_at
		FROM requests
		WHERE requester_id = $1 AND status IN ('pending', 'accepted')
		LIMIT 1`, connID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// AcceptRequest is the authoritative compare-and-swap for the accept race:
// the WHERE clause only matches while the row is still pending, so exactly
// one concurrent acceptor observes a row count of 1.
func (p *PostgresStore) AcceptRequest(ctx context.Context, id int64, acceptorID string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE requests
		SET status = 'accepted', acceptor_id = $2, accepted_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, acceptorID, at)
	return oneRow(res, err)
}

func (p *PostgresStore) CancelRequest(ctx context.Context, id int64, requesterID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE requests
		SET status = 'cancelled'
		WHERE id = $1 AND requester_id = $2 AND status = 'pending'`,
		id, requesterID)
	return oneRow(res, err)
}

func (p *PostgresStore) CompleteRequest(ctx context.Context, id int64, requesterID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE requests
		SET status = 'completed'
		WHERE id = $1 AND requester_id = $2 AND status = 'accepted'`,
		id, requesterID)
	return oneRow(res, err)
}

func (p *PostgresStore) ExpirePending(ctx context.Context, cutoff time.Time) ([]models.BookingRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE requests
		SET status = 'cancelled'
		WHERE status = 'pending' AND created_at < $1
		RETURNING id, requester_id, COALESCE(acceptor_id, ''), status, created_at, accepted_at`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var id models.Identity
	var lat, lng, acc sql.NullFloat64
	if err := row.Scan(&id.ConnectionID, &id.Role, &id.Name, &lat, &lng, &acc, &id.LastSeen); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		id.Loc = &models.Coord{Lat: lat.Float64, Lng: lng.Float64, Accuracy: acc.Float64}
	}
	return &id, nil
}

func scanRequest(row rowScanner) (*models.BookingRequest, error) {
	var r models.BookingRequest
	var acceptedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.RequesterID, &r.AcceptorID, &r.Status, &r.CreatedAt, &acceptedAt); err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		r.AcceptedAt = &t
	}
	return &r, nil
}

func collectRequests(rows *sql.Rows) ([]models.BookingRequest, error) {
	var out []models.BookingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
