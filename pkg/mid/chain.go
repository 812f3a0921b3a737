// Package mid wraps the metrics endpoint with access logging, panic
// recovery and a read-only method guard.
package mid

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
)

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mw[0] sees the request first.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := range mw {
		h = mw[len(mw)-1-i](h)
	}
	return h
}

// recorder remembers the first status the handler sent.
type recorder struct {
	http.ResponseWriter
	code int
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

// Logger emits one debug line per scrape.
func Logger(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			began := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, req)
			log.Debug("scrape",
				"method", req.Method,
				"path", req.URL.Path,
				"status", rec.status(),
				"took", time.Since(began),
			)
		})
	}
}

// Count bumps medalparser_scrapes_total{code=...} in reg for every request.
func Count(reg *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, req)
			name := metrics.WithLabels("medalparser_scrapes_total", "code", strconv.Itoa(rec.status()))
			reg.Counter(name, "Requests served by the metrics endpoint.").Inc()
		})
	}
}

// Recover turns a handler panic into a 500 and an error log.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error("metrics handler panicked", "path", req.URL.Path, "panic", v)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, req)
		})
	}
}

// GetOnly answers 405 to anything but GET and HEAD.
func GetOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, req)
		default:
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
