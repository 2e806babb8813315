package telemetry

import (
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

// ThrottledErrorHandler forwards OTel SDK errors (collector unreachable,
// export timeouts) to report at a bounded rate. Errors over the limit are
// counted and the count is passed with the next reported error.
type ThrottledErrorHandler struct {
	limiter    *rate.Limiter
	report     func(err error, suppressed int)
	suppressed atomic.Int64
}

// NewThrottledErrorHandler allows one report per interval with the given burst.
func NewThrottledErrorHandler(interval time.Duration, burst int, report func(err error, suppressed int)) *ThrottledErrorHandler {
	return &ThrottledErrorHandler{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		report:  report,
	}
}

// Handle implements otel.ErrorHandler.
func (h *ThrottledErrorHandler) Handle(err error) {
	if err == nil || h.report == nil {
		return
	}
	if !h.limiter.Allow() {
		h.suppressed.Add(1)
		return
	}
	h.report(err, int(h.suppressed.Swap(0)))
}

// Install registers the handler as the process-wide OTel error handler.
func (h *ThrottledErrorHandler) Install() {
	otel.SetErrorHandler(h)
}

var _ otel.ErrorHandler = (*ThrottledErrorHandler)(nil)
