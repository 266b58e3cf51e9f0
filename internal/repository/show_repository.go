package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/StefanoGaspardone/quickshow/internal/model"
)

const showColumns = `id, title, starts_at, price_cents, occupied_seats, version, created_at, updated_at`

// ShowRepo manages persistence for shows and their occupancy maps.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo constructs a ShowRepo with the given DB handle.
func NewShowRepo(db *sql.DB) *ShowRepo {
	return &ShowRepo{db: db}
}

// Create inserts a new show with an empty occupancy map at version 0 and
// assigns the generated ID back to the struct.
func (r *ShowRepo) Create(ctx context.Context, s *model.Show) error {
	const q = `INSERT INTO shows (title, starts_at, price_cents, occupied_seats, version) VALUES (?, ?, ?, '{}', 0)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, s.Title, s.StartsAt.UTC(), s.PriceCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.Occupied = model.Occupancy{}
	s.Version = 0
	return nil
}

// GetByID retrieves a show by its ID. Inside a transaction the row is
// locked until commit. It returns ErrShowNotFound if there is no row.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	q := `SELECT ` + showColumns + ` FROM shows WHERE id = ?` + lockClause(ctx)
	s, err := scanShow(conn(ctx, r.db).QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowNotFound
		}
		return nil, err
	}
	return s, nil
}

// SaveOccupancy writes the whole occupancy map in one statement, guarded
// by the version the caller read. On success s.Version is advanced; when
// another writer got there first it returns ErrVersionConflict and the
// stored map is untouched.
func (r *ShowRepo) SaveOccupancy(ctx context.Context, s *model.Show) error {
	occupied := s.Occupied
	if occupied == nil {
		occupied = model.Occupancy{}
	}
	blob, err := json.Marshal(occupied)
	if err != nil {
		return fmt.Errorf("encode occupancy: %w", err)
	}
	const q = `UPDATE shows SET occupied_seats = ?, version = version + 1 WHERE id = ? AND version = ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, blob, s.ID, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

// List returns every show ordered by start time.
func (r *ShowRepo) List(ctx context.Context) ([]model.Show, error) {
	return r.query(ctx, `SELECT `+showColumns+` FROM shows ORDER BY starts_at ASC`)
}

// ListUpcoming returns shows starting at or after from, earliest first.
func (r *ShowRepo) ListUpcoming(ctx context.Context, from time.Time) ([]model.Show, error) {
	return r.query(ctx, `SELECT `+showColumns+` FROM shows WHERE starts_at >= ? ORDER BY starts_at ASC`, from.UTC())
}

// ListStartingBetween returns shows with from < starts_at <= to.
func (r *ShowRepo) ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.Show, error) {
	return r.query(ctx, `SELECT `+showColumns+` FROM shows WHERE starts_at > ? AND starts_at <= ? ORDER BY starts_at ASC`, from.UTC(), to.UTC())
}

func (r *ShowRepo) query(ctx context.Context, q string, args ...any) ([]model.Show, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Show, 0)
	for rows.Next() {
		s, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShow(row rowScanner) (*model.Show, error) {
	var (
		s    model.Show
		blob []byte
	)
	if err := row.Scan(&s.ID, &s.Title, &s.StartsAt, &s.PriceCents, &blob, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Occupied = model.Occupancy{}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &s.Occupied); err != nil {
			return nil, fmt.Errorf("decode occupancy of show %d: %w", s.ID, err)
		}
	}
	return &s, nil
}
