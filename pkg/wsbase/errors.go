package wsbase

import "errors"

var (
	ErrTLSConfig     = errors.New("wsbase: certificate and key must be supplied together")
	ErrNoHandler     = errors.New("wsbase: handler is required")
	ErrConnExists    = errors.New("wsbase: connection already registered")
	ErrConnNotFound  = errors.New("wsbase: connection not registered")
	ErrHookFailed    = errors.New("wsbase: hook failed")
	ErrServerClosed  = errors.New("wsbase: server closed")
	errInvalidConfig = errors.New("wsbase: invalid config")
)

// report kinds, also used as metric label values
const (
	reportDuplicateConnect  = "duplicate_connect"
	reportUnknownMessage    = "unknown_message"
	reportUnknownDisconnect = "unknown_disconnect"
	reportUnknownError      = "unknown_error"
	reportSendMiss          = "send_miss"
	reportSetMiss           = "set_miss"
	reportCloseMiss         = "close_miss"
	reportWriteFailed       = "write_failed"
	reportHookFailed        = "hook_failed"
)
