// Package apperr описывает классы ошибок, которые сервис возвращает клиентам.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError возвращается при некорректных или отсутствующих входных данных.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError возвращается, если запрошенный объект не существует.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// ConflictError возвращается при превышении квоты или операции над заказом в неподходящем статусе.
type ConflictError struct {
	Msg string
	// Status содержит текущий статус заказа, если конфликт вызван стадией жизненного цикла.
	Status string
	// Remaining заполнен только при HasRemaining.
	Remaining    int
	HasRemaining bool
}

func (e *ConflictError) Error() string {
	if e.HasRemaining {
		return fmt.Sprintf("%s: %d remaining", e.Msg, e.Remaining)
	}
	return e.Msg
}

// SignatureError возвращается, если подпись платёжного шлюза не прошла проверку.
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string { return e.Msg }

// InternalError оборачивает сбои хранилища и внешних сервисов.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InternalError) Unwrap() error { return e.Err }

// Validation создаёт ValidationError.
func Validation(msg string) error {
	return &ValidationError{Msg: msg}
}

// NotFound создаёт NotFoundError.
func NotFound(what string) error {
	return &NotFoundError{What: what}
}

// Conflict создаёт ConflictError без сведений об остатке квоты.
func Conflict(msg string) error {
	return &ConflictError{Msg: msg}
}

// Locked создаёт ConflictError для заказа, который ещё не оплачен.
func Locked(status string) error {
	return &ConflictError{Msg: "resource locked until payment completes", Status: status}
}

// QuotaExceeded создаёт ConflictError с актуальным остатком квоты.
func QuotaExceeded(remaining int) error {
	return &ConflictError{Msg: "quota exceeded", Remaining: remaining, HasRemaining: true}
}

// Signature создаёт SignatureError.
func Signature(msg string) error {
	return &SignatureError{Msg: msg}
}

// Internal оборачивает ошибку в InternalError. Уже классифицированные ошибки возвращаются как есть.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// Classified сообщает, относится ли ошибка к одному из классов пакета.
func Classified(err error) bool {
	var (
		v *ValidationError
		n *NotFoundError
		c *ConflictError
		s *SignatureError
		i *InternalError
	)
	return errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &c) ||
		errors.As(err, &s) || errors.As(err, &i)
}

// HTTPStatus возвращает HTTP-код, соответствующий классу ошибки.
func HTTPStatus(err error) int {
	var (
		v *ValidationError
		n *NotFoundError
		c *ConflictError
		s *SignatureError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &v):
		return http.StatusBadRequest
	case errors.As(err, &n):
		return http.StatusNotFound
	case errors.As(err, &c):
		return http.StatusConflict
	case errors.As(err, &s):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
