package browser

import "errors"

var (
	ErrClosed  = errors.New("browser session closed")
	ErrOffline = errors.New("browser context is offline")
	ErrAborted = errors.New("request aborted")
	ErrNoBody  = errors.New("response body unavailable")
	// ErrResolved is returned when a Route is aborted or continued twice.
	ErrResolved = errors.New("route already resolved")
)
