package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSamples кадр короче минимума, цикл пропускается
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrSourceUnavailable датчик или источник канала не читается
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedInput входные данные не разбираются
	ErrMalformedInput = errors.New("malformed input")
	// ErrConfiguration ошибка конфигурации, фатальна до старта мониторинга
	ErrConfiguration = errors.New("configuration error")
)

// ConfigError описывает конкретное неверное поле конфигурации
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigError конструктор ConfigError
func NewConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
