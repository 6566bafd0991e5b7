package errors

import (
	"errors"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrNilUser             = errors.New("user is nil")
	ErrUsernameExists      = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInternal            = errors.New("internal error")
	ErrInvalidBalanceField = errors.New("invalid balance field")

	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrInvalidAmount    = errors.New("invalid deposit amount")
	ErrSessionNotFound  = errors.New("deposit session not found")
	ErrNilSession       = errors.New("deposit session is nil")

	ErrExternalSourceUnavailable = errors.New("external deposit source unavailable")
	ErrPersistence               = errors.New("persistence failure")
	ErrAlreadyCredited           = errors.New("deposit session already credited")

	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrTransactionNotFound    = errors.New("transaction not found")
)
