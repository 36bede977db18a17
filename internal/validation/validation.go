// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/shopspring/decimal"
)

// MaxAmount — максимальная сумма одной референции Multibanco.
var MaxAmount = decimal.RequireFromString("999999.99")

var (
	// ErrInvalidAmount возвращается, если сумма не является корректной денежной величиной.
	ErrInvalidAmount = errors.New("invalid amount")
)

// ParseAmount разбирает сумму платежа: положительное число не более чем с двумя знаками после точки.
func ParseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.StringFixed(2))
	}
	return amount, nil
}

// IsValidEntity проверяет код entidade Multibanco: ровно пять цифр.
func IsValidEntity(entity string) bool {
	return len(entity) == 5 && digitsOnly(entity)
}

// IsValidReference проверяет номер референции Multibanco: девять цифр, пробелы допускаются.
func IsValidReference(reference string) bool {
	count := 0
	for _, ch := range reference {
		if ch == ' ' {
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
		count++
	}
	return count == 9
}

func digitsOnly(s string) bool {
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
