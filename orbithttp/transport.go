package orbithttp

import (
	"net/http"
	"time"

	"github.com/astro-stack/orbit"
)

// Transport is an http.RoundTripper that records an outbound HTTP entry for
// each request made through it. Requests made with a context carrying a unit
// of work are correlated with it.
type Transport struct {
	// Recorder receives the entries. Required.
	Recorder *orbit.Recorder

	// Base performs the requests. Optional. By default, http.DefaultTransport.
	Base http.RoundTripper
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport returns a transport recording to rec, wrapping base.
func NewTransport(rec *orbit.Recorder, base http.RoundTripper) *Transport {
	return &Transport{
		Recorder: rec,
		Base:     base,
	}
}

// RoundTrip implements http.RoundTripper. The recorded duration is the time
// until the response headers were received.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	begin := time.Now()
	resp, err := base.RoundTrip(req)
	took := time.Since(begin)

	op := orbit.HTTPClientOp{
		Method: req.Method,
		URL:    req.URL.Redacted(),
	}
	if op.Method == "" {
		op.Method = http.MethodGet
	}
	switch {
	case err != nil:
		op.Error = err.Error()
	case resp != nil:
		op.StatusCode = resp.StatusCode
		if resp.ContentLength > 0 {
			op.ResponseSize = resp.ContentLength
		}
	}

	t.Recorder.ObserveTimed(req.Context(), op, took)

	return resp, err
}
