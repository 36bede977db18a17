// Package events публикует события об изменении статуса референций.
package events

import (
	"context"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

// Type описывает тип события.
type Type string

const (
	TypePaid      Type = "paid"
	TypeCancelled Type = "cancelled"
)

// Event описывает изменение статуса референции.
type Event struct {
	Type      Type              `json:"type"`
	Reference model.Reference   `json:"reference"`
	Details   map[string]string `json:"details,omitempty"`
}

// Publisher отправляет события во внешнюю систему.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// NopPublisher отбрасывает события. Используется, если брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(ctx context.Context, key string, value any) error {
	return nil
}

// Close ничего не делает.
func (NopPublisher) Close() error {
	return nil
}
