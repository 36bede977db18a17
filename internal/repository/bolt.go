package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

const (
	boltBucket    = "easypay"
	referencesKey = "references"
	docsKey       = "docs"
	counterKey    = "counter"
)

// BoltRepository хранит данные в файле BoltDB.
//
// Каждый вид записей хранится одним агрегатом под ключом references, docs или
// counter. Любое изменение читает агрегат, применяет правку и записывает его
// обратно в одной транзакции; фиксация транзакции сбрасывает данные на диск до
// возврата из метода.
type BoltRepository struct {
	mu sync.Mutex
	db *bolt.DB
}

// NewBoltRepository открывает (или создаёт) файл BoltDB по указанному пути.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Close закрывает файл базы данных.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func readAggregate(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func writeAggregate(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func (r *BoltRepository) mutate(ctx context.Context, key string, v any, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if err := readAggregate(b, key, v); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return writeAggregate(b, key, v)
	})
}

func (r *BoltRepository) view(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.View(func(tx *bolt.Tx) error {
		return readAggregate(tx.Bucket([]byte(boltBucket)), key, v)
	})
}

// PutReference сохраняет или заменяет референцию. Замена с откатом статуса
// возвращает ErrInvalidTransition.
func (r *BoltRepository) PutReference(ctx context.Context, ref model.Reference) error {
	refs := make(map[string]model.Reference)
	return r.mutate(ctx, referencesKey, &refs, func() error {
		if cur, ok := refs[ref.Identifier]; ok && !cur.Status.CanReplace(ref.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, ref.Status)
		}
		refs[ref.Identifier] = ref
		return nil
	})
}

// DeleteReference удаляет референцию.
func (r *BoltRepository) DeleteReference(ctx context.Context, identifier string) error {
	refs := make(map[string]model.Reference)
	return r.mutate(ctx, referencesKey, &refs, func() error {
		if _, ok := refs[identifier]; !ok {
			return fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
		}
		delete(refs, identifier)
		return nil
	})
}

// ListReferences возвращает снимок всех референций.
func (r *BoltRepository) ListReferences(ctx context.Context) ([]model.Reference, error) {
	refs := make(map[string]model.Reference)
	if err := r.view(ctx, referencesKey, &refs); err != nil {
		return nil, err
	}

	res := make([]model.Reference, 0, len(refs))
	for _, ref := range refs {
		res = append(res, ref)
	}
	sortReferences(res)
	return res, nil
}

// GetReference возвращает референцию по идентификатору.
func (r *BoltRepository) GetReference(ctx context.Context, identifier string) (*model.Reference, error) {
	refs := make(map[string]model.Reference)
	if err := r.view(ctx, referencesKey, &refs); err != nil {
		return nil, err
	}

	ref, ok := refs[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
	}
	return &ref, nil
}

// UpdateReferenceStatus атомарно меняет статус существующей референции.
func (r *BoltRepository) UpdateReferenceStatus(ctx context.Context, identifier string, status model.ReferenceStatus) (*model.Reference, error) {
	refs := make(map[string]model.Reference)
	var updated model.Reference

	err := r.mutate(ctx, referencesKey, &refs, func() error {
		ref, ok := refs[identifier]
		if !ok {
			return fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
		}
		if !ref.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ref.Status, status)
		}
		ref.Status = status
		refs[identifier] = ref
		updated = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// PutDocument сохраняет или заменяет документ.
func (r *BoltRepository) PutDocument(ctx context.Context, doc model.Document) error {
	docs := make(map[string]model.Document)
	return r.mutate(ctx, docsKey, &docs, func() error {
		docs[doc.Identifier] = doc
		return nil
	})
}

// DeleteDocument удаляет документ.
func (r *BoltRepository) DeleteDocument(ctx context.Context, identifier string) error {
	docs := make(map[string]model.Document)
	return r.mutate(ctx, docsKey, &docs, func() error {
		if _, ok := docs[identifier]; !ok {
			return fmt.Errorf("%w: document %s", ErrNotFound, identifier)
		}
		delete(docs, identifier)
		return nil
	})
}

// ListDocuments возвращает снимок всех документов.
func (r *BoltRepository) ListDocuments(ctx context.Context) ([]model.Document, error) {
	docs := make(map[string]model.Document)
	if err := r.view(ctx, docsKey, &docs); err != nil {
		return nil, err
	}

	res := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		res = append(res, doc)
	}
	sortDocuments(res)
	return res, nil
}

// GetDocument возвращает документ по идентификатору.
func (r *BoltRepository) GetDocument(ctx context.Context, identifier string) (*model.Document, error) {
	docs := make(map[string]model.Document)
	if err := r.view(ctx, docsKey, &docs); err != nil {
		return nil, err
	}

	doc, ok := docs[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, identifier)
	}
	return &doc, nil
}

// Next увеличивает счётчик и возвращает новое значение после фиксации на диске.
func (r *BoltRepository) Next(ctx context.Context) (int64, error) {
	var counter int64
	err := r.mutate(ctx, counterKey, &counter, func() error {
		counter++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return counter, nil
}
