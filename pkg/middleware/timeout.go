package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"runtime/debug"
	"sync"
	"time"
)

// Timeout bounds each request by timeout. If the handler has not started
// writing by then, the client gets a 504 and later writes from the handler
// are discarded. A panicking handler is logged and answered with a 500
// when nothing was written yet.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			done := make(chan struct{})
			panicked := make(chan any, 1)
			tw := &timeoutWriter{w: w, h: make(http.Header)}
			go func() {
				defer func() {
					if p := recover(); p != nil {
						slog.Error("handler panic",
							"method", r.Method,
							"path", r.URL.Path,
							"panic", fmt.Sprint(p),
							"stack", string(debug.Stack()),
						)
						panicked <- p
						return
					}
					close(done)
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()
			select {
			case <-done:
			case <-panicked:
				tw.fail(http.StatusInternalServerError, `{"error":"internal error"}`)
			case <-ctx.Done():
				if tw.fail(http.StatusGatewayTimeout, `{"error":"request timeout"}`) {
					slog.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", timeout)
				}
			}
		})
	}
}

// timeoutWriter hands the handler its own header map. The map is copied to
// the real writer on the first write, so a handler still running after a
// timeout never touches headers the middleware is writing.
type timeoutWriter struct {
	w http.ResponseWriter
	h http.Header

	mu          sync.Mutex
	wroteHeader bool
	abandoned   bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.abandoned || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	maps.Copy(tw.w.Header(), tw.h)
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.abandoned {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.w.Write(b)
}

// fail answers with code and body unless the handler already started a
// response. Either way the handler's later writes are dropped. It reports
// whether the error response was sent.
func (tw *timeoutWriter) fail(code int, body string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.abandoned = true
	if tw.wroteHeader {
		return false
	}
	tw.w.Header().Set("Content-Type", "application/json")
	tw.w.WriteHeader(code)
	tw.w.Write([]byte(body))
	return true
}
