package app

import (
	"fmt"
	"net/http"
	"strings"
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func unauthorizedError() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func configurationError(missing []string) *DomainError {
	return domainError(http.StatusInternalServerError, "CONFIG_ERROR",
		"Missing configuration: "+strings.Join(missing, ", "), missing)
}

func persistenceError(err error) *DomainError {
	return domainError(http.StatusInternalServerError, "PERSISTENCE_ERROR", err.Error(), nil)
}
