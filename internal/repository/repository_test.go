package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
	"github.com/mmeshcher/easypay-reconciler/internal/repository"
)

type store = repository.Repository

type factory func(t *testing.T) store

func backends() map[string]factory {
	res := map[string]factory{
		"memory": func(t *testing.T) store {
			return repository.NewMemoryRepository()
		},
		"bolt": func(t *testing.T) store {
			t.Helper()
			s, err := repository.NewBoltRepository(filepath.Join(t.TempDir(), "easypay.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	if dsn := os.Getenv("TEST_DATABASE_URI"); dsn != "" {
		res["postgres"] = func(t *testing.T) store {
			t.Helper()
			s, err := repository.NewPostgresRepository(dsn)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			cleanupPostgres(t, s)
			return s
		}
	}

	return res
}

func cleanupPostgres(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()

	refs, err := s.ListReferences(ctx)
	require.NoError(t, err)
	for _, ref := range refs {
		require.NoError(t, s.DeleteReference(ctx, ref.Identifier))
	}

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	for _, doc := range docs {
		require.NoError(t, s.DeleteDocument(ctx, doc.Identifier))
	}
}

func pendingReference(id string) model.Reference {
	return model.Reference{
		Identifier: id,
		CIN:        "1234",
		Username:   "user",
		Entity:     "10611",
		Reference:  "123456789",
		Value:      "10.00",
		Status:     model.ReferenceStatusPending,
	}
}

func TestBackends(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("put then get returns pending", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))

				got, err := s.GetReference(ctx, "abc")
				require.NoError(t, err)
				assert.Equal(t, model.ReferenceStatusPending, got.Status)
				assert.Equal(t, "10.00", got.Value)
			})

			t.Run("put replaces by identifier", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				ref := pendingReference("abc")
				require.NoError(t, s.PutReference(ctx, ref))
				ref.Value = "20.00"
				require.NoError(t, s.PutReference(ctx, ref))

				refs, err := s.ListReferences(ctx)
				require.NoError(t, err)
				require.Len(t, refs, 1)
				assert.Equal(t, "20.00", refs[0].Value)
			})

			t.Run("put never reverses a final status", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))
				_, err := s.UpdateReferenceStatus(ctx, "abc", model.ReferenceStatusPaid)
				require.NoError(t, err)

				err = s.PutReference(ctx, pendingReference("abc"))
				assert.ErrorIs(t, err, repository.ErrInvalidTransition)

				got, err := s.GetReference(ctx, "abc")
				require.NoError(t, err)
				assert.Equal(t, model.ReferenceStatusPaid, got.Status)

				paid := pendingReference("abc")
				paid.Status = model.ReferenceStatusPaid
				paid.Value = "30.00"
				require.NoError(t, s.PutReference(ctx, paid))
			})

			t.Run("delete then get fails with not found", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))
				require.NoError(t, s.DeleteReference(ctx, "abc"))

				_, err := s.GetReference(ctx, "abc")
				assert.ErrorIs(t, err, repository.ErrNotFound)
			})

			t.Run("delete missing fails with not found", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				assert.ErrorIs(t, s.DeleteReference(ctx, "missing"), repository.ErrNotFound)
				assert.ErrorIs(t, s.DeleteDocument(ctx, "missing"), repository.ErrNotFound)
			})

			t.Run("list is sorted snapshot", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				for _, id := range []string{"c", "a", "b"} {
					require.NoError(t, s.PutReference(ctx, pendingReference(id)))
				}

				refs, err := s.ListReferences(ctx)
				require.NoError(t, err)
				require.Len(t, refs, 3)
				assert.Equal(t, "a", refs[0].Identifier)
				assert.Equal(t, "c", refs[2].Identifier)

				refs[0].Status = model.ReferenceStatusPaid
				got, err := s.GetReference(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, model.ReferenceStatusPending, got.Status)
			})

			t.Run("empty lists", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				refs, err := s.ListReferences(ctx)
				require.NoError(t, err)
				assert.Empty(t, refs)

				docs, err := s.ListDocuments(ctx)
				require.NoError(t, err)
				assert.Empty(t, docs)
			})

			t.Run("status transitions", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))

				updated, err := s.UpdateReferenceStatus(ctx, "abc", model.ReferenceStatusPaid)
				require.NoError(t, err)
				assert.Equal(t, model.ReferenceStatusPaid, updated.Status)

				_, err = s.UpdateReferenceStatus(ctx, "abc", model.ReferenceStatusCancelled)
				assert.ErrorIs(t, err, repository.ErrInvalidTransition)

				got, err := s.GetReference(ctx, "abc")
				require.NoError(t, err)
				assert.Equal(t, model.ReferenceStatusPaid, got.Status)
			})

			t.Run("status update does not resurrect deleted reference", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))
				require.NoError(t, s.DeleteReference(ctx, "abc"))

				_, err := s.UpdateReferenceStatus(ctx, "abc", model.ReferenceStatusPaid)
				assert.ErrorIs(t, err, repository.ErrNotFound)

				_, err = s.GetReference(ctx, "abc")
				assert.ErrorIs(t, err, repository.ErrNotFound)
			})

			t.Run("documents", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				doc := model.Document{Identifier: "doc-1", CIN: "1234", Username: "user", Key: "7", Reference: "abc"}
				require.NoError(t, s.PutDocument(ctx, doc))
				require.NoError(t, s.PutDocument(ctx, model.Document{Identifier: "doc-2", Key: "8"}))

				got, err := s.GetDocument(ctx, "doc-1")
				require.NoError(t, err)
				assert.Equal(t, doc, *got)

				docs, err := s.ListDocuments(ctx)
				require.NoError(t, err)
				require.Len(t, docs, 2)
				assert.Equal(t, "doc-1", docs[0].Identifier)

				require.NoError(t, s.DeleteDocument(ctx, "doc-1"))
				_, err = s.GetDocument(ctx, "doc-1")
				assert.ErrorIs(t, err, repository.ErrNotFound)
			})

			t.Run("next is strictly increasing under concurrency", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				const (
					workers = 8
					calls   = 25
				)

				results := make([][]int64, workers)
				var wg sync.WaitGroup
				for w := 0; w < workers; w++ {
					wg.Add(1)
					go func(w int) {
						defer wg.Done()
						for i := 0; i < calls; i++ {
							v, err := s.Next(ctx)
							if err != nil {
								t.Errorf("next: %v", err)
								return
							}
							results[w] = append(results[w], v)
						}
					}(w)
				}
				wg.Wait()

				seen := make(map[int64]bool)
				for _, values := range results {
					for i, v := range values {
						assert.False(t, seen[v], "duplicate value %d", v)
						seen[v] = true
						if i > 0 {
							assert.Greater(t, v, values[i-1])
						}
					}
				}
				assert.Len(t, seen, workers*calls)
			})

			t.Run("list never observes partial writes", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				require.NoError(t, s.PutReference(ctx, pendingReference("abc")))

				done := make(chan struct{})
				go func() {
					defer close(done)
					for i := 0; i < 50; i++ {
						v := fmt.Sprintf("%d", i)
						ref := model.Reference{
							Identifier: "abc",
							CIN:        v,
							Username:   v,
							Entity:     v,
							Reference:  v,
							Value:      v,
							Status:     model.ReferenceStatusPending,
						}
						if err := s.PutReference(ctx, ref); err != nil {
							t.Errorf("put: %v", err)
							return
						}
					}
				}()

				for {
					select {
					case <-done:
						return
					default:
					}

					refs, err := s.ListReferences(ctx)
					require.NoError(t, err)
					for _, ref := range refs {
						if ref.CIN == "1234" {
							continue
						}
						assert.Equal(t, ref.CIN, ref.Username)
						assert.Equal(t, ref.CIN, ref.Entity)
						assert.Equal(t, ref.CIN, ref.Reference)
						assert.Equal(t, ref.CIN, ref.Value)
					}
				}
			})

			t.Run("canceled context", func(t *testing.T) {
				s := newStore(t)
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				err := s.PutReference(ctx, pendingReference("abc"))
				assert.True(t, errors.Is(err, context.Canceled))
			})
		})
	}
}

func TestNewIdentifier_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := repository.NewIdentifier()
		require.Len(t, id, 36)
		require.False(t, seen[id], "duplicate identifier %s", id)
		seen[id] = true
	}
}
