package app

import (
	"fmt"
	"net/http"
)

// DomainError is the error shape every handler response is built from. Code
// is a stable machine-readable string; clients branch on it, so codes are
// append-only. The ones minted in this package:
//
//	FORBIDDEN               the role policy denied the action
//	VALIDATION_ERROR        a field failed validation (Details maps field to message)
//	ACCESS_RESTRICTED       the email is not on the allow-list
//	EMAIL_EXISTS            sign-up or user creation hit a registered email
//	ADMIN_ENTRY_PROTECTED   attempt to delete the bootstrap admin allow-entry
//	ALREADY_COMPLETED       completing a task that is already completed
//	ATTACHMENTS_UNAVAILABLE upload requested with no object storage configured
//	EXPORT_UNAVAILABLE      PDF report requested with no chromium on the host
//	STREAM_UNAVAILABLE      change feed requested with no event bus attached
//	NOT_FOUND, INVALID_CREDENTIALS, SERVER_ERROR and friends come from mapError.
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

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

// validationError reports a single bad field as a 422 with a field→message
// detail map, the same shape mapError derives from authpw validation errors.
func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" "+message, map[string]string{field: message})
}
