package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	return connectPostgres(context.Background(), dsn)
}

func connectPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if i == len(delays) || !isRetryable(err) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// PutReference сохраняет или заменяет референцию. Строка в конечном статусе
// не перезаписывается другим статусом: возвращается ErrInvalidTransition.
func (r *PostgresRepository) PutReference(ctx context.Context, ref model.Reference) error {
	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO easypay_references (identifier, cin, username, entity, reference, value, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (identifier) DO UPDATE SET
			   cin = EXCLUDED.cin,
			   username = EXCLUDED.username,
			   entity = EXCLUDED.entity,
			   reference = EXCLUDED.reference,
			   value = EXCLUDED.value,
			   status = EXCLUDED.status,
			   updated_at = now()
			 WHERE easypay_references.status = EXCLUDED.status
			    OR easypay_references.status = 'pending'`,
			ref.Identifier, ref.CIN, ref.Username, ref.Entity, ref.Reference, ref.Value, string(ref.Status),
		)
		if err != nil {
			return fmt.Errorf("upsert reference: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return fmt.Errorf("%w: reference %s is final", ErrInvalidTransition, ref.Identifier)
		}
		return nil
	})
}

// DeleteReference удаляет референцию.
func (r *PostgresRepository) DeleteReference(ctx context.Context, identifier string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM easypay_references WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
	}
	return nil
}

// ListReferences возвращает снимок всех референций.
func (r *PostgresRepository) ListReferences(ctx context.Context) ([]model.Reference, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT identifier, cin, username, entity, reference, value, status
		 FROM easypay_references
		 ORDER BY identifier`,
	)
	if err != nil {
		return nil, fmt.Errorf("select references: %w", err)
	}
	defer rows.Close()

	res := make([]model.Reference, 0)
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetReference возвращает референцию по идентификатору.
func (r *PostgresRepository) GetReference(ctx context.Context, identifier string) (*model.Reference, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT identifier, cin, username, entity, reference, value, status
		 FROM easypay_references
		 WHERE identifier = $1`,
		identifier,
	)

	ref, err := scanReference(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
		}
		return nil, err
	}
	return &ref, nil
}

// UpdateReferenceStatus меняет статус референции, блокируя её строку на время транзакции.
func (r *PostgresRepository) UpdateReferenceStatus(ctx context.Context, identifier string, status model.ReferenceStatus) (*model.Reference, error) {
	var updated model.Reference

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ref, err := scanReference(tx.QueryRow(ctx,
			`SELECT identifier, cin, username, entity, reference, value, status
			 FROM easypay_references
			 WHERE identifier = $1
			 FOR UPDATE`,
			identifier,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
			}
			return err
		}

		if !ref.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ref.Status, status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE easypay_references SET status = $2, updated_at = now() WHERE identifier = $1`,
			identifier, string(status),
		)
		if err != nil {
			return fmt.Errorf("update reference: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		ref.Status = status
		updated = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// PutDocument сохраняет или заменяет документ.
func (r *PostgresRepository) PutDocument(ctx context.Context, doc model.Document) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO easypay_docs (identifier, cin, username, doc_key, doc_reference)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (identifier) DO UPDATE SET
			   cin = EXCLUDED.cin,
			   username = EXCLUDED.username,
			   doc_key = EXCLUDED.doc_key,
			   doc_reference = EXCLUDED.doc_reference`,
			doc.Identifier, doc.CIN, doc.Username, doc.Key, doc.Reference,
		)
		if err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		return nil
	})
}

// DeleteDocument удаляет документ.
func (r *PostgresRepository) DeleteDocument(ctx context.Context, identifier string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM easypay_docs WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, identifier)
	}
	return nil
}

// ListDocuments возвращает снимок всех документов.
func (r *PostgresRepository) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT identifier, cin, username, doc_key, doc_reference FROM easypay_docs ORDER BY identifier`,
	)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()

	res := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.Identifier, &doc.CIN, &doc.Username, &doc.Key, &doc.Reference); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		res = append(res, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetDocument возвращает документ по идентификатору.
func (r *PostgresRepository) GetDocument(ctx context.Context, identifier string) (*model.Document, error) {
	var doc model.Document
	err := r.pool.QueryRow(ctx,
		`SELECT identifier, cin, username, doc_key, doc_reference FROM easypay_docs WHERE identifier = $1`,
		identifier,
	).Scan(&doc.Identifier, &doc.CIN, &doc.Username, &doc.Key, &doc.Reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, identifier)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// Next увеличивает счётчик одной командой UPDATE ... RETURNING.
func (r *PostgresRepository) Next(ctx context.Context) (int64, error) {
	var next int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE easypay_counter SET value = value + 1 WHERE id = 1 RETURNING value`,
		).Scan(&next)
	})
	if err != nil {
		return 0, fmt.Errorf("next counter: %w", err)
	}
	return next, nil
}

func scanReference(row pgx.Row) (model.Reference, error) {
	var (
		ref    model.Reference
		status string
	)
	err := row.Scan(&ref.Identifier, &ref.CIN, &ref.Username, &ref.Entity, &ref.Reference, &ref.Value, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ref, err
		}
		return ref, fmt.Errorf("scan reference: %w", err)
	}
	ref.Status = model.ReferenceStatus(status)
	return ref, nil
}
