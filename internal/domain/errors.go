package domain

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnknownRule        = errors.New("unknown rule")
	ErrUnknownTier        = errors.New("unknown tier")
	ErrSanctionNotFound   = errors.New("sanction not found")
	ErrInfractionNotFound = errors.New("infraction not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
