// Package service реализует бизнес-логику выпуска и сверки платёжных референций.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/easypay-reconciler/internal/events"
	"github.com/mmeshcher/easypay-reconciler/internal/model"
	"github.com/mmeshcher/easypay-reconciler/internal/repository"
	"github.com/mmeshcher/easypay-reconciler/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
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

// Gateway описывает операции платёжного шлюза, нужные сервису.
type Gateway interface {
	CIN() string
	Username() string
	Validate(cin, username string) error
	GenerateMB(ctx context.Context, identifier string, amount decimal.Decimal) (map[string]string, error)
}

// Service содержит бизнес-логику работы с референциями и документами.
type Service struct {
	repo      Repository
	gateway   Gateway
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService создаёт сервис. Если publisher равен nil, события не публикуются.
func NewService(repo Repository, gateway Gateway, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

// NewIdentifier возвращает новый уникальный идентификатор.
func (s *Service) NewIdentifier() string {
	return repository.NewIdentifier()
}

// Next возвращает следующее значение счётчика хранилища.
func (s *Service) Next(ctx context.Context) (int64, error) {
	return s.repo.Next(ctx)
}

// GenerateReference создаёт референцию в статусе pending из ответа шлюза.
func (s *Service) GenerateReference(ctx context.Context, data map[string]string) (*model.Reference, error) {
	ref, err := model.NewReference(data)
	if err != nil {
		return nil, fmt.Errorf("build reference: %w", err)
	}

	if err := s.repo.PutReference(ctx, ref); err != nil {
		return nil, fmt.Errorf("put reference: %w", err)
	}
	return &ref, nil
}

// GenerateDocument создаёт документ для указанного идентификатора и ключа.
func (s *Service) GenerateDocument(ctx context.Context, identifier, key string) (*model.Document, error) {
	return s.putDocument(ctx, model.Document{
		Identifier: identifier,
		CIN:        s.gateway.CIN(),
		Username:   s.gateway.Username(),
		Key:        key,
	})
}

func (s *Service) putDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if err := s.repo.PutDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	return &doc, nil
}

// CreateMB запрашивает у шлюза новую референцию Multibanco и сохраняет её.
func (s *Service) CreateMB(ctx context.Context, value string) (*model.Reference, error) {
	amount, err := validation.ParseAmount(value)
	if err != nil {
		return nil, err
	}

	identifier := s.NewIdentifier()
	data, err := s.gateway.GenerateMB(ctx, identifier, amount)
	if err != nil {
		return nil, err
	}

	defaults := map[string]string{
		"t_key":    identifier,
		"ep_cin":   s.gateway.CIN(),
		"ep_user":  s.gateway.Username(),
		"ep_value": amount.StringFixed(2),
	}
	for k, v := range defaults {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}

	if !validation.IsValidReference(data["ep_reference"]) {
		s.logger.Warn("unexpected multibanco reference format",
			zap.String("identifier", identifier),
			zap.String("reference", data["ep_reference"]),
		)
	}

	ref, err := s.GenerateReference(ctx, data)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reference created",
		zap.String("identifier", ref.Identifier),
		zap.String("reference", ref.Reference),
		zap.String("value", ref.Value),
	)
	return ref, nil
}

// NotifyMB обрабатывает уведомление шлюза о документе оплаты: проверяет учётную запись
// и сохраняет документ с новым ключом из счётчика. reference (t_key) связывает документ
// с референцией и может быть пустым.
func (s *Service) NotifyMB(ctx context.Context, cin, username, doc, reference string) (*model.Document, error) {
	if err := s.gateway.Validate(cin, username); err != nil {
		return nil, err
	}
	if doc == "" {
		return nil, errors.New("empty document identifier")
	}

	key, err := s.repo.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("next key: %w", err)
	}

	return s.putDocument(ctx, model.Document{
		Identifier: doc,
		CIN:        s.gateway.CIN(),
		Username:   s.gateway.Username(),
		Key:        strconv.FormatInt(key, 10),
		Reference:  reference,
	})
}

// MarkMB помечает референцию оплаченной по деталям документа и удаляет документ.
// Документ без соответствующей референции удаляется без ошибки.
func (s *Service) MarkMB(ctx context.Context, doc model.Document, details map[string]string) error {
	identifier := details["t_key"]
	if identifier == "" {
		return fmt.Errorf("details for document %s without t_key", doc.Identifier)
	}

	ref, err := s.repo.UpdateReferenceStatus(ctx, identifier, model.ReferenceStatusPaid)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("orphan document, reference not found",
			zap.String("doc", doc.Identifier),
			zap.String("identifier", identifier),
		)
		return s.dropDocument(ctx, doc.Identifier)
	case errors.Is(err, repository.ErrInvalidTransition):
		s.logger.Info("reference already in terminal status",
			zap.String("doc", doc.Identifier),
			zap.String("identifier", identifier),
		)
		return s.dropDocument(ctx, doc.Identifier)
	case err != nil:
		return fmt.Errorf("mark reference %s: %w", identifier, err)
	}

	s.logger.Info("reference paid", zap.String("identifier", ref.Identifier), zap.String("doc", doc.Identifier))
	s.publish(ctx, events.TypePaid, *ref, details)

	if err := s.dropDocument(ctx, doc.Identifier); err != nil {
		return err
	}
	return s.dropLinkedDocuments(ctx, ref.Identifier)
}

// CancelReference переводит референцию в статус cancelled и удаляет связанные с ней документы,
// чтобы планировщик больше их не опрашивал.
func (s *Service) CancelReference(ctx context.Context, identifier string) (*model.Reference, error) {
	ref, err := s.repo.UpdateReferenceStatus(ctx, identifier, model.ReferenceStatusCancelled)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reference cancelled", zap.String("identifier", identifier))
	s.publish(ctx, events.TypeCancelled, *ref, nil)

	if err := s.dropLinkedDocuments(ctx, identifier); err != nil {
		return nil, err
	}
	return ref, nil
}

// ListReferences возвращает все референции.
func (s *Service) ListReferences(ctx context.Context) ([]model.Reference, error) {
	return s.repo.ListReferences(ctx)
}

// GetReference возвращает референцию по идентификатору.
func (s *Service) GetReference(ctx context.Context, identifier string) (*model.Reference, error) {
	return s.repo.GetReference(ctx, identifier)
}

// DeleteReference удаляет референцию.
func (s *Service) DeleteReference(ctx context.Context, identifier string) error {
	return s.repo.DeleteReference(ctx, identifier)
}

// ListDocuments возвращает все документы.
func (s *Service) ListDocuments(ctx context.Context) ([]model.Document, error) {
	return s.repo.ListDocuments(ctx)
}

// GetDocument возвращает документ по идентификатору.
func (s *Service) GetDocument(ctx context.Context, identifier string) (*model.Document, error) {
	return s.repo.GetDocument(ctx, identifier)
}

// DeleteDocument удаляет документ.
func (s *Service) DeleteDocument(ctx context.Context, identifier string) error {
	return s.repo.DeleteDocument(ctx, identifier)
}

func (s *Service) dropDocument(ctx context.Context, identifier string) error {
	err := s.repo.DeleteDocument(ctx, identifier)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete document %s: %w", identifier, err)
	}
	return nil
}

func (s *Service) dropLinkedDocuments(ctx context.Context, reference string) error {
	docs, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	for _, doc := range docs {
		if doc.Reference != reference {
			continue
		}
		if err := s.dropDocument(ctx, doc.Identifier); err != nil {
			return err
		}
		s.logger.Info("document dropped", zap.String("doc", doc.Identifier), zap.String("identifier", reference))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, ref model.Reference, details map[string]string) {
	event := events.Event{
		Type:      typ,
		Reference: ref,
		Details:   details,
	}
	if err := s.publisher.Publish(ctx, ref.Identifier, event); err != nil {
		s.logger.Error("publish event failed",
			zap.Error(err),
			zap.String("type", string(typ)),
			zap.String("identifier", ref.Identifier),
		)
	}
}
