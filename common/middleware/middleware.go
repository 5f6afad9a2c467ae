package middleware

import (
	"net/http"
	"time"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"wuyrush.io/wave/common/metrics"
	se "wuyrush.io/wave/errors"
)

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares. The last middleware is the outermost one.
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}

// PanicRecoverer recovers from panic of underlying handlers and answers with a service failure
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(log.Fields{"panicReason": rec, "path": r.URL.Path}).Error("got panic from underlying handler")
					RespondErr(w, se.NewServiceFailure("internal error"))
				}
			}()
			h(w, r, p)
		}
	}
}

// RateLimiter limits underlying handler call rate with given token bucket config. The bucket is
// shared by every request going through the returned middleware.
func RateLimiter(burst int, rps float64) Middleware {
	l := rate.NewLimiter(rate.Limit(rps), burst)
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			if !l.Allow() {
				RespondErr(w, se.NewTooManyRequests("rate limit exceeded"))
				return
			}
			h(w, r, p)
		}
	}
}

// BodyLimiter caps the size of request bodies
func BodyLimiter(max int64) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			h(w, r, p)
		}
	}
}

// Instrument records count, latency and status of requests served on route
func Instrument(m *metrics.Metrics, route string) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			start := time.Now()
			m.InFlight.Inc()
			defer m.InFlight.Dec()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			h(sw, r, p)
			m.ObserveRequest(route, r.Method, sw.status, time.Since(start))
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status, w.wrote = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
