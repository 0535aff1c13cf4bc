// Package middleware provides net/http filters applied in front of every
// gateway handler.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	pkglog "healthpay-gateway/pkg/log"
)

// statusWriter captures the response status for logging. It forwards
// Hijacker and Flusher so WebSocket upgrades and streaming keep working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestID assigns a request id when the client did not send one and
// stores it in the request context.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
				r.Header.Set("X-Request-ID", id)
			}
			next.ServeHTTP(w, r.WithContext(pkglog.WithRequestID(r.Context(), id)))
		})
	}
}

// Logging records every request with its status and duration. Proxied
// requests get a second, richer line from the router; this one also
// covers the gateway's own endpoints.
func Logging(logger log.Logger) func(http.Handler) http.Handler {
	helper := pkglog.NewLogHelper(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			if sw.status == 0 {
				// Hijacked connections never write a status here.
				return
			}
			helper.Request(r.Method, r.URL.Path, sw.status, time.Since(start).Milliseconds(),
				"request_id", pkglog.RequestID(r.Context()))
		})
	}
}

// Recovery converts handler panics into 500 responses instead of
// killing the connection.
func Recovery(logger log.Logger) func(http.Handler) http.Handler {
	helper := log.NewHelper(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					helper.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
					http.Error(w, `{"success":false,"code":"INTERNAL","message":"internal server error"}`,
						http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
