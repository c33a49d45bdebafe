package shared

import "errors"

// Authentication failures.
var (
	// ErrNoToken indicates the request carried no bearer header or token cookie.
	ErrNoToken = errors.New("no token provided")
	// ErrTokenExpired indicates a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and unknown claims.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrWrongTokenType indicates a token of the wrong kind or family for the call.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Authorization and request protection failures.
var (
	// ErrInsufficientPermission indicates the principal lacks the section/action grant.
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrRateLimited indicates the caller exhausted the window for its policy.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFFailed indicates a missing, expired or mismatched anti-forgery token.
	ErrCSRFFailed = errors.New("csrf verification failed")
)

// Signin failures. Messages are user facing.
var (
	// ErrAccountNotFound occurs when no credential record matches the email.
	ErrAccountNotFound = errors.New("no account found with this email")
	// ErrIncorrectPassword occurs when the password does not match the stored hash.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrAccountInactive occurs when the account exists but is disabled or suspended.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrRefreshDisabled occurs when refresh tokens are not configured for a principal kind.
	ErrRefreshDisabled = errors.New("refresh tokens are disabled")
)

// ErrNotFound indicates a resource lookup miss in a store.
var ErrNotFound = errors.New("not found")
