package worker

import "errors"

// ErrShuttingDown signals the loop is unwinding after a shutdown request;
// returned to callers that need to distinguish it from a fatal error.
var ErrShuttingDown = errors.New("worker: shutting down")
