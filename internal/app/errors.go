package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS", "Already exists", nil
	case errors.Is(err, savestate.ErrClosed):
		return http.StatusConflict, "DOCUMENT_CLOSED", "Itinerary session is closing", nil
	case errors.Is(err, store.ErrStaleRevision):
		return http.StatusConflict, "SAVE_CONFLICT", "A newer revision is already saved", nil
	case errors.Is(err, savestate.ErrSaveConflict):
		return http.StatusBadGateway, "SAVE_FAILED", "Saved locally, not yet synced", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
