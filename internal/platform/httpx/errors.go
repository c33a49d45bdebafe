package httpx

import (
	"errors"
	"net/http"

	"github.com/storefront-hq/storefront/internal/shared"
)

// Reason codes returned in problem bodies so clients can tell "retry later" from "forbidden".
const (
	CodeNoToken                = "NO_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeTokenInvalid           = "TOKEN_INVALID"
	CodeWrongTokenType         = "WRONG_TOKEN_TYPE"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	CodeRateLimited            = "RATE_LIMITED"
	CodeCSRFFailed             = "CSRF_FAILED"
	CodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	CodeIncorrectPassword      = "INCORRECT_PASSWORD"
	CodeAccountInactive        = "ACCOUNT_INACTIVE"
	CodeRefreshDisabled        = "REFRESH_DISABLED"
	CodeValidation             = "VALIDATION_FAILED"
	CodeInternal               = "INTERNAL"
)

// Sentinel errors for the HTTP layer.
var (
	ErrValidation = errors.New("validation failed")
)

type mapping struct {
	target error
	status int
	title  string
	code   string
}

var mappings = []mapping{
	{shared.ErrNoToken, http.StatusUnauthorized, "Unauthorized", CodeNoToken},
	{shared.ErrTokenExpired, http.StatusUnauthorized, "Unauthorized", CodeTokenExpired},
	{shared.ErrTokenInvalid, http.StatusUnauthorized, "Unauthorized", CodeTokenInvalid},
	{shared.ErrWrongTokenType, http.StatusUnauthorized, "Unauthorized", CodeWrongTokenType},
	{shared.ErrInsufficientPermission, http.StatusForbidden, "Forbidden", CodeInsufficientPermission},
	{shared.ErrRateLimited, http.StatusTooManyRequests, "Too Many Requests", CodeRateLimited},
	{shared.ErrCSRFFailed, http.StatusForbidden, "Forbidden", CodeCSRFFailed},
	{shared.ErrAccountNotFound, http.StatusUnauthorized, "Unauthorized", CodeAccountNotFound},
	{shared.ErrIncorrectPassword, http.StatusUnauthorized, "Unauthorized", CodeIncorrectPassword},
	{shared.ErrAccountInactive, http.StatusForbidden, "Forbidden", CodeAccountInactive},
	{shared.ErrRefreshDisabled, http.StatusBadRequest, "Bad Request", CodeRefreshDisabled},
	{ErrValidation, http.StatusBadRequest, "Validation Failed", CodeValidation},
}

// StatusFor reports the HTTP status and reason code for err.
func StatusFor(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unknown errors are reported without detail so internal messages never leak.
func RespondError(w http.ResponseWriter, err error) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			ProblemWithCode(w, m.status, m.title, m.target.Error(), m.code)
			return
		}
	}
	ProblemWithCode(w, http.StatusInternalServerError, "Internal Error", "", CodeInternal)
}

// RespondValidation reports field errors under the validation reason code.
func RespondValidation(w http.ResponseWriter, fields map[string]string) {
	JSON(w, http.StatusBadRequest, map[string]any{
		"title":  "Validation Failed",
		"status": http.StatusBadRequest,
		"code":   CodeValidation,
		"errors": fields,
	})
}
