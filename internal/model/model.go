// Package model содержит доменные сущности сервиса сверки платежей easypay.
package model

import "fmt"

// ReferenceStatus описывает статус платёжной референции.
type ReferenceStatus string

const (
	ReferenceStatusPending   ReferenceStatus = "pending"
	ReferenceStatusPaid      ReferenceStatus = "paid"
	ReferenceStatusCancelled ReferenceStatus = "cancelled"
)

// CanTransition сообщает, допустим ли переход из текущего статуса в указанный.
// Разрешены только pending -> paid и pending -> cancelled.
func (s ReferenceStatus) CanTransition(to ReferenceStatus) bool {
	if s != ReferenceStatusPending {
		return false
	}
	return to == ReferenceStatusPaid || to == ReferenceStatusCancelled
}

// CanReplace сообщает, может ли запись в текущем статусе быть заменена записью в статусе to.
// Замена допустима без смены статуса или по разрешённому переходу, статус никогда не откатывается.
func (s ReferenceStatus) CanReplace(to ReferenceStatus) bool {
	return s == to || s.CanTransition(to)
}

// Terminal сообщает, является ли статус конечным.
func (s ReferenceStatus) Terminal() bool {
	return s == ReferenceStatusPaid || s == ReferenceStatusCancelled
}

// Reference описывает платёжную референцию, выпущенную шлюзом.
type Reference struct {
	Identifier string          `json:"identifier"`
	CIN        string          `json:"cin"`
	Username   string          `json:"username"`
	Entity     string          `json:"entity"`
	Reference  string          `json:"reference"`
	Value      string          `json:"value"`
	Status     ReferenceStatus `json:"status"`
}

// Document описывает документ оплаты, по ключу которого запрашиваются детали платежа.
// Reference — идентификатор (t_key) референции, к которой относится документ, если он известен.
type Document struct {
	Identifier string `json:"identifier"`
	CIN        string `json:"cin"`
	Username   string `json:"username"`
	Key        string `json:"key"`
	Reference  string `json:"reference,omitempty"`
}

// NewReference создаёт референцию в статусе pending из разобранного ответа шлюза.
func NewReference(data map[string]string) (Reference, error) {
	fields := []string{"ep_cin", "ep_user", "ep_entity", "ep_reference", "ep_value", "t_key"}
	for _, f := range fields {
		if _, ok := data[f]; !ok {
			return Reference{}, fmt.Errorf("missing field %s", f)
		}
	}

	return Reference{
		Identifier: data["t_key"],
		CIN:        data["ep_cin"],
		Username:   data["ep_user"],
		Entity:     data["ep_entity"],
		Reference:  data["ep_reference"],
		Value:      data["ep_value"],
		Status:     ReferenceStatusPending,
	}, nil
}
