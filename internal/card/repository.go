package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists card aggregates. Save inserts a card whose Version is
// zero and otherwise updates it only if the stored version still matches,
// returning the card with its new version.
type Repository interface {
	Get(ctx context.Context, id string) (Card, error)
	Save(ctx context.Context, card Card) (Card, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Card, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Card, error)
}

// PostgresRepository stores cards in PostgreSQL as JSONB documents.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const cardsSchema = `
CREATE TABLE IF NOT EXISTS cards (
    id          TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    version     BIGINT NOT NULL,
    document    JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cards_customer_id_idx ON cards (customer_id);`

// EnsureSchema creates the cards table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, cardsSchema)
	return err
}

// Get fetches a card by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Card, error) {
	row := r.db.QueryRow(ctx, `SELECT document, version FROM cards WHERE id = $1`, id)
	c, err := scanCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Card{}, ErrCardNotFound
	}
	return c, err
}

// Save inserts or conditionally updates a card.
func (r *PostgresRepository) Save(ctx context.Context, c Card) (Card, error) {
	expected := c.Version
	c.Version = expected + 1
	doc, err := json.Marshal(c)
	if err != nil {
		return Card{}, fmt.Errorf("encode card: %w", err)
	}

	if expected == 0 {
		tag, err := r.db.Exec(ctx, `INSERT INTO cards (id, customer_id, version, document, updated_at)
            VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			c.ID, c.CustomerID, c.Version, doc, c.UpdatedAt.UTC())
		if err != nil {
			return Card{}, err
		}
		if tag.RowsAffected() == 0 {
			return Card{}, ErrVersionConflict
		}
		return c, nil
	}

	tag, err := r.db.Exec(ctx, `UPDATE cards SET customer_id = $2, version = $3, document = $4, updated_at = $5
        WHERE id = $1 AND version = $6`,
		c.ID, c.CustomerID, c.Version, doc, c.UpdatedAt.UTC(), expected)
	if err != nil {
		return Card{}, err
	}
	if tag.RowsAffected() == 0 {
		return Card{}, ErrVersionConflict
	}
	return c, nil
}

// Delete removes a card.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// List returns every card.
func (r *PostgresRepository) List(ctx context.Context) ([]Card, error) {
	rows, err := r.db.Query(ctx, `SELECT document, version FROM cards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectCards(rows)
}

// ListByCustomer returns the cards issued to customerID.
func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerID string) ([]Card, error) {
	rows, err := r.db.Query(ctx, `SELECT document, version FROM cards WHERE customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	return collectCards(rows)
}

func scanCard(row pgx.Row) (Card, error) {
	var doc []byte
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return Card{}, err
	}
	var c Card
	if err := json.Unmarshal(doc, &c); err != nil {
		return Card{}, fmt.Errorf("decode card: %w", err)
	}
	c.Version = version
	return c, nil
}

func collectCards(rows pgx.Rows) ([]Card, error) {
	defer rows.Close()
	var out []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
