package orbithttp

import (
	"net"
	"net/http"
	"time"

	"github.com/astro-stack/orbit"
)

// Middleware decorates an HTTP handler and records a request entry for each
// incoming request, via the provided recorder. Each request runs in its own
// unit of work, so entries recorded by the handler with the request context
// share the request's family hash, and duplicate queries are detected per
// request.
//
// Requests with ignored paths are passed through without a unit of work. A
// panic in the handler is recorded as an exception entry and a request with
// status 500, then re-raised. If the handler hadn't written a response yet, a
// 500 is written to the client before the panic propagates.
func Middleware(rec *orbit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := rec.Config()
			if !cfg.Enabled || cfg.IsIgnoredPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, scope := orbit.Begin(r.Context())
			defer scope.End()

			iw := newInterceptor(w)
			defer func(begin time.Time) {
				code := iw.Code()

				x := recover()
				if x != nil {
					rec.Observe(ctx, orbit.RecoverException(x, r.Method, r.URL.Path))
					code = http.StatusInternalServerError
					if !iw.Written() {
						http.Error(iw, http.StatusText(code), code)
						iw.Flush()
					}
				}

				rec.ObserveTimed(ctx, orbit.RequestOp{
					Method:     r.Method,
					Path:       r.URL.Path,
					StatusCode: code,
					ClientAddr: clientAddr(r),
					QueryCount: scope.QueryCount(),
				}, time.Since(begin))

				if x != nil {
					panic(x)
				}
			}(time.Now())

			next.ServeHTTP(iw, r.WithContext(ctx))
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

//
//
//

type interceptor struct {
	http.ResponseWriter

	code int
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	return &interceptor{ResponseWriter: w}
}

func (i *interceptor) WriteHeader(code int) {
	if i.code == 0 {
		i.code = code
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *interceptor) Write(p []byte) (int, error) {
	if i.code == 0 {
		i.code = http.StatusOK
	}
	return i.ResponseWriter.Write(p)
}

// Flush allows streaming handlers to work through the interceptor.
func (i *interceptor) Flush() {
	if f, ok := i.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (i *interceptor) Unwrap() http.ResponseWriter {
	return i.ResponseWriter
}

func (i *interceptor) Written() bool {
	return i.code != 0
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}
