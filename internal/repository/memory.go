package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Состояние теряется при перезапуске.
type MemoryRepository struct {
	mu         sync.Mutex
	references map[string]model.Reference
	docs       map[string]model.Document
	counter    int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		references: make(map[string]model.Reference),
		docs:       make(map[string]model.Document),
	}
}

// Close ничего не делает и нужен для совместимости с другими хранилищами.
func (r *MemoryRepository) Close() error {
	return nil
}

// PutReference сохраняет или заменяет референцию. Замена с откатом статуса
// возвращает ErrInvalidTransition.
func (r *MemoryRepository) PutReference(ctx context.Context, ref model.Reference) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.references[ref.Identifier]; ok && !cur.Status.CanReplace(ref.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, ref.Status)
	}
	r.references[ref.Identifier] = ref
	return nil
}

// DeleteReference удаляет референцию.
func (r *MemoryRepository) DeleteReference(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.references[identifier]; !ok {
		return fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
	}
	delete(r.references, identifier)
	return nil
}

// ListReferences возвращает снимок всех референций.
func (r *MemoryRepository) ListReferences(ctx context.Context) ([]model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	res := make([]model.Reference, 0, len(r.references))
	for _, ref := range r.references {
		res = append(res, ref)
	}
	r.mu.Unlock()

	sortReferences(res)
	return res, nil
}

// GetReference возвращает референцию по идентификатору.
func (r *MemoryRepository) GetReference(ctx context.Context, identifier string) (*model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.references[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
	}
	return &ref, nil
}

// UpdateReferenceStatus атомарно меняет статус существующей референции.
func (r *MemoryRepository) UpdateReferenceStatus(ctx context.Context, identifier string, status model.ReferenceStatus) (*model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.references[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, identifier)
	}
	if !ref.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ref.Status, status)
	}
	ref.Status = status
	r.references[identifier] = ref
	return &ref, nil
}

// PutDocument сохраняет или заменяет документ.
func (r *MemoryRepository) PutDocument(ctx context.Context, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.Identifier] = doc
	return nil
}

// DeleteDocument удаляет документ.
func (r *MemoryRepository) DeleteDocument(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[identifier]; !ok {
		return fmt.Errorf("%w: document %s", ErrNotFound, identifier)
	}
	delete(r.docs, identifier)
	return nil
}

// ListDocuments возвращает снимок всех документов.
func (r *MemoryRepository) ListDocuments(ctx context.Context) ([]model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	res := make([]model.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		res = append(res, doc)
	}
	r.mu.Unlock()

	sortDocuments(res)
	return res, nil
}

// GetDocument возвращает документ по идентификатору.
func (r *MemoryRepository) GetDocument(ctx context.Context, identifier string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, identifier)
	}
	return &doc, nil
}

// Next возвращает следующее значение счётчика.
func (r *MemoryRepository) Next(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter, nil
}
