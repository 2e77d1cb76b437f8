package details

import "errors"

var (
	ErrTierUnavailable    = errors.New("storage tier unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrRemoteUnavailable  = errors.New("remote snapshot unavailable")
	ErrMalformedSnapshot  = errors.New("malformed snapshot")
	ErrInvalidIndex       = errors.New("invalid gallery position")
	ErrUnknownGallery     = errors.New("unknown gallery")
	ErrForbidden          = errors.New("admin session required")
	ErrContentUnavailable = errors.New("content unavailable")
)
