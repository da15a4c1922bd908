package app

import (
	"fmt"
	"net/http"
)

const (
	codeNotFound     = "NOT_FOUND"
	codeForbidden    = "FORBIDDEN"
	codeValidation   = "VALIDATION_ERROR"
	codeConflict     = "CONFLICT"
	codeTransient    = "TRANSIENT_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeInvalidBody  = "INVALID_BODY"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFoundError() *DomainError {
	return domainError(http.StatusNotFound, codeNotFound, "Conversation not found", nil)
}

func forbiddenError() *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, "You do not have access to this conversation", nil)
}

func unauthorizedError() *DomainError {
	return domainError(http.StatusUnauthorized, codeUnauthorized, "Sign in required", nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, details)
}

func conflictError(message string, details any) *DomainError {
	return domainError(http.StatusConflict, codeConflict, message, details)
}

func transientError() *DomainError {
	return domainError(http.StatusServiceUnavailable, codeTransient, "Service temporarily unavailable, try again", nil)
}
