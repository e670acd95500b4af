package broker

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// newHTTPClient builds a retryablehttp client for transient 5xx/network
// retry. It sits below the re-auth FSM: retryablehttp only ever sees
// network errors and 5xx responses, never the auth-class errors that
// trigger withReauth, so the two retry layers cannot loop against each
// other.
func newHTTPClient(log *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}
