// Package repository содержит хранилища референций, документов и счётчика.
//
// Все реализации ведут себя одинаково: удаление или чтение отсутствующей
// записи возвращает ErrNotFound, списки возвращают снимок, отсортированный
// по идентификатору, а изменения сериализуются одной блокировкой на хранилище.
package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

var (
	// ErrNotFound возвращается, если запись с указанным идентификатором отсутствует.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition возвращается при попытке недопустимой смены статуса референции.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Kind определяет тип хранилища.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindBolt     Kind = "bolt"
	KindPostgres Kind = "postgres"
)

// Repository — общий контракт всех хранилищ.
type Repository interface {
	Close() error
	PutReference(ctx context.Context, ref model.Reference) error
	DeleteReference(ctx context.Context, identifier string) error
	ListReferences(ctx context.Context) ([]model.Reference, error)
	GetReference(ctx context.Context, identifier string) (*model.Reference, error)
	UpdateReferenceStatus(ctx context.Context, identifier string, status model.ReferenceStatus) (*model.Reference, error)
	PutDocument(ctx context.Context, doc model.Document) error
	DeleteDocument(ctx context.Context, identifier string) error
	ListDocuments(ctx context.Context) ([]model.Document, error)
	GetDocument(ctx context.Context, identifier string) (*model.Document, error)
	Next(ctx context.Context) (int64, error)
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*BoltRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)

// Open открывает хранилище указанного типа. path используется хранилищем bolt, dsn — postgres.
func Open(ctx context.Context, kind Kind, path, dsn string) (Repository, error) {
	switch kind {
	case KindMemory:
		return NewMemoryRepository(), nil
	case KindBolt:
		if path == "" {
			return nil, errors.New("bolt storage requires a file path")
		}
		r, err := NewBoltRepository(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case KindPostgres:
		if dsn == "" {
			return nil, errors.New("postgres storage requires a database URI")
		}
		r, err := connectPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}

// NewIdentifier возвращает новый случайный идентификатор в формате UUID.
func NewIdentifier() string {
	return uuid.NewString()
}

func sortReferences(refs []model.Reference) {
	slices.SortFunc(refs, func(a, b model.Reference) int {
		return cmp.Compare(a.Identifier, b.Identifier)
	})
}

func sortDocuments(docs []model.Document) {
	slices.SortFunc(docs, func(a, b model.Document) int {
		return cmp.Compare(a.Identifier, b.Identifier)
	})
}
