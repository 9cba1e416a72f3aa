// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	minPinLength = 4
	maxPinLength = 12
)

// IsValidPin проверяет формат секрета выдачи: от 4 до 12 цифр.
// Сверка значения с настроенным секретом выполняется на уровне бизнес-логики.
func IsValidPin(pin string) bool {
	if len(pin) < minPinLength || len(pin) > maxPinLength {
		return false
	}

	for _, ch := range pin {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
