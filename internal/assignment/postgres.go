package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
)

// PostgresRequestStore persists pickup requests. Every transition is a
// single conditional UPDATE; the WHERE clause carries the precondition
// so concurrent writers race at the database, not in process.
type PostgresRequestStore struct {
	db *sql.DB
}

func NewPostgresRequestStore(dsn string) (*PostgresRequestStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRequestStore{db: db}, nil
}

// DB exposes the pool so sibling stores can share it.
func (p *PostgresRequestStore) DB() *sql.DB { return p.db }

const requestColumns = `id, requester_id, origin_lat, origin_lng, materials, weight_kg_est, price_est,
	status, COALESCE(assigned_vendor, ''), COALESCE(cancel_reason, ''),
	created_at, accepted_at, arrived_at, completed_at`

func (p *PostgresRequestStore) Create(ctx context.Context, r *models.PickupRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pickup_requests(id, requester_id, origin_lat, origin_lng, materials, weight_kg_est, price_est, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.RequesterID, r.Origin.Lat, r.Origin.Lng, r.Materials, r.WeightKgEst, r.PriceEst, string(r.Status), r.CreatedAt)
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (p *PostgresRequestStore) Get(ctx context.Context, id string) (*models.PickupRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM pickup_requests WHERE id=$1`, id)
	return scanRequest(row, id)
}

func (p *PostgresRequestStore) Apply(ctx context.Context, id string, t Transition) (*models.PickupRequest, error) {
	set := []string{"status=$1"}
	args := []any{string(t.To)}
	n := 1

	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if t.SetVendor != "" {
		set = append(set, "assigned_vendor="+arg(t.SetVendor))
	}
	if t.ClearVendor {
		set = append(set, "assigned_vendor=NULL")
	}
	if t.SetCancelReason != "" {
		set = append(set, "cancel_reason="+arg(t.SetCancelReason))
	}
	if t.StampAccepted {
		set = append(set, "accepted_at="+arg(t.At))
	}
	if t.StampArrived {
		set = append(set, "arrived_at="+arg(t.At))
	}
	if t.StampCompleted {
		set = append(set, "completed_at="+arg(t.At))
	}

	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}
	where := []string{"id=" + arg(id), "status=ANY(" + arg(pq.Array(from)) + ")"}
	if t.RequireUnassigned {
		where = append(where, "assigned_vendor IS NULL")
	}
	if t.RequireVendor != "" {
		where = append(where, "assigned_vendor="+arg(t.RequireVendor))
	}

	q := `UPDATE pickup_requests SET ` + strings.Join(set, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + requestColumns
	row := p.db.QueryRowContext(ctx, q, args...)
	r, err := scanRequest(row, id)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	// Zero rows: tell a vanished request apart from a failed guard.
	if _, gerr := p.Get(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, apperr.Preconditionf("request %s no longer satisfies transition to %s", id, t.To)
}

func scanRequest(row *sql.Row, id string) (*models.PickupRequest, error) {
	var (
		r      models.PickupRequest
		status string
	)
	err := row.Scan(&r.ID, &r.RequesterID, &r.Origin.Lat, &r.Origin.Lng, &r.Materials, &r.WeightKgEst, &r.PriceEst,
		&status, &r.AssignedVendor, &r.CancelReason,
		&r.CreatedAt, &r.AcceptedAt, &r.ArrivedAt, &r.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("request %s", id)
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	r.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
