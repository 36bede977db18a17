// Package handler содержит HTTP-обработчики сервиса сверки платежей easypay.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/easypay-reconciler/internal/codec"
	"github.com/mmeshcher/easypay-reconciler/internal/gateway"
	"github.com/mmeshcher/easypay-reconciler/internal/middleware"
	"github.com/mmeshcher/easypay-reconciler/internal/model"
	"github.com/mmeshcher/easypay-reconciler/internal/repository"
	"github.com/mmeshcher/easypay-reconciler/internal/validation"
)

const (
	notifyRoot     = "getautoMB_key"
	notifyEncoding = "ISO-8859-1"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateMB(ctx context.Context, value string) (*model.Reference, error)
	NotifyMB(ctx context.Context, cin, username, doc, reference string) (*model.Document, error)
	CancelReference(ctx context.Context, identifier string) (*model.Reference, error)
	ListReferences(ctx context.Context) ([]model.Reference, error)
	GetReference(ctx context.Context, identifier string) (*model.Reference, error)
	DeleteReference(ctx context.Context, identifier string) error
	ListDocuments(ctx context.Context) ([]model.Document, error)
	GetDocument(ctx context.Context, identifier string) (*model.Document, error)
	DeleteDocument(ctx context.Context, identifier string) error
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	service  Service
	logger   *zap.Logger
	identity *middleware.IdentityMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, identity *middleware.IdentityMiddleware) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		identity: identity,
	}
}

// Notify принимает уведомление шлюза о новом документе оплаты и отвечает XML.
// Необязательный параметр t_key связывает документ с референцией.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	query := r.URL.Query()
	docID := query.Get("ep_doc")

	resp := map[string]any{
		"ep_cin":  identity.CIN,
		"ep_user": identity.Username,
		"ep_doc":  docID,
	}

	status := http.StatusOK
	doc, err := h.service.NotifyMB(r.Context(), identity.CIN, identity.Username, docID, query.Get("t_key"))
	switch {
	case err == nil:
		resp["ep_status"] = gateway.StatusOK
		resp["ep_message"] = "doc generated"
		resp["ep_key"] = doc.Key
	case isSecurityError(err):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	default:
		h.logger.Error("notify error", zap.Error(err), zap.String("doc", docID))
		status = http.StatusBadRequest
		resp["ep_status"] = "err1"
		resp["ep_message"] = err.Error()
	}

	body, err := codec.EncodeWithEncoding(resp, notifyRoot, notifyEncoding)
	if err != nil {
		h.logger.Error("encode notify response error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset="+notifyEncoding)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type createReferenceRequest struct {
	Value string `json:"value"`
}

// CreateReference выпускает новую референцию Multibanco на указанную сумму.
func (h *Handler) CreateReference(w http.ResponseWriter, r *http.Request) {
	var req createReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ref, err := h.service.CreateMB(r.Context(), req.Value)
	if err != nil {
		h.writeError(w, err, "create reference error")
		return
	}

	writeJSON(w, http.StatusCreated, ref)
}

// ListReferences возвращает все референции.
func (h *Handler) ListReferences(w http.ResponseWriter, r *http.Request) {
	refs, err := h.service.ListReferences(r.Context())
	if err != nil {
		h.writeError(w, err, "list references error")
		return
	}

	if len(refs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, refs)
}

// GetReference возвращает референцию по идентификатору.
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	ref, err := h.service.GetReference(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "get reference error")
		return
	}

	writeJSON(w, http.StatusOK, ref)
}

// DeleteReference удаляет референцию.
func (h *Handler) DeleteReference(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteReference(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err, "delete reference error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelReference отменяет ожидающую оплаты референцию.
func (h *Handler) CancelReference(w http.ResponseWriter, r *http.Request) {
	ref, err := h.service.CancelReference(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "cancel reference error")
		return
	}

	writeJSON(w, http.StatusOK, ref)
}

// ListDocuments возвращает документы, ожидающие сверки.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context())
	if err != nil {
		h.writeError(w, err, "list documents error")
		return
	}

	if len(docs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, docs)
}

// GetDocument возвращает документ по идентификатору.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "get document error")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument удаляет документ.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err, "delete document error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	var gwErr *gateway.GatewayError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrInvalidTransition):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, validation.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &gwErr):
		h.logger.Warn(msg, zap.String("gateway_message", gwErr.Message))
		http.Error(w, gwErr.Message, http.StatusBadGateway)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func isSecurityError(err error) bool {
	var secErr *gateway.SecurityError
	return errors.As(err, &secErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
