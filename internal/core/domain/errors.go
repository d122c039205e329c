package domain

import "errors"

var (
	ErrUnknownStatus      = errors.New("unknown alert status")
	ErrUnknownSeverity    = errors.New("unknown alert severity")
	ErrUnknownCloseReason = errors.New("unknown close reason")
	ErrUnknownThreatModel = errors.New("unknown threat model")
	ErrInvalidAlertID     = errors.New("invalid alert id")

	// ErrSchemaDrift is returned when a result row does not line up with the
	// requested column list.
	ErrSchemaDrift = errors.New("search result does not match requested columns")
)
