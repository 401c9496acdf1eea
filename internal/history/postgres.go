package history

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB shares a connection pool with the request store.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, rec models.LocationHistoryRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO location_history(request_id, vendor_id, lat, lng, sampled_at) VALUES($1,$2,$3,$4,$5)`,
		rec.RequestID, rec.VendorID, rec.Loc.Lat, rec.Loc.Lng, rec.SampledAt)
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (p *PostgresStore) Last(ctx context.Context, requestID string) (*models.LocationHistoryRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT request_id, vendor_id, lat, lng, sampled_at FROM location_history
		 WHERE request_id=$1 ORDER BY sampled_at DESC LIMIT 1`, requestID)
	var rec models.LocationHistoryRecord
	err := row.Scan(&rec.RequestID, &rec.VendorID, &rec.Loc.Lat, &rec.Loc.Lng, &rec.SampledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("no history for request %s", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return &rec, nil
}

func (p *PostgresStore) List(ctx context.Context, requestID string) ([]models.LocationHistoryRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT request_id, vendor_id, lat, lng, sampled_at FROM location_history
		 WHERE request_id=$1 ORDER BY sampled_at ASC`, requestID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var out []models.LocationHistoryRecord
	for rows.Next() {
		var rec models.LocationHistoryRecord
		if err := rows.Scan(&rec.RequestID, &rec.VendorID, &rec.Loc.Lat, &rec.Loc.Lng, &rec.SampledAt); err != nil {
			return nil, apperr.Unavailable(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable(err)
	}
	return out, nil
}
