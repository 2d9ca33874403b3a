package alert

import "errors"

var (
	// ErrUnknownSeverity indicates a severity name is not recognized.
	ErrUnknownSeverity = errors.New("alert: unknown severity")

	// ErrDeliveryFailed indicates a notification channel rejected an event.
	ErrDeliveryFailed = errors.New("alert: delivery failed")
)
