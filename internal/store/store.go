package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// MaxQuantity is the largest quantity a product or order line can hold.
// Quantities are stored as INTEGER.
const MaxQuantity = math.MaxInt32

var (
	// ErrInvalidInput is returned for writes the schema would reject
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is wrapped by *InsufficientStockError
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict is returned when a write lost against a concurrent change
	// or would break a reference held by another row
	ErrConflict = errors.New("conflict")
)

// InsufficientStockError reports the product whose guarded decrement failed
type InsufficientStockError struct {
	ProductID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	sqlDB, err := otelsql.Open("postgres", databaseURL,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "postgres")
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction. The transaction is rolled back on
// every path that does not reach Commit, including panics.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pq error codes
const (
	codeNumericOutOfRange   = "22003"
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

// checkQuantity rejects quantities a guarded decrement must never see.
func checkQuantity(productID int64, quantity int) error {
	if quantity <= 0 || quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity %d for product %d is out of range", ErrInvalidInput, quantity, productID)
	}
	return nil
}

func hasCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}
