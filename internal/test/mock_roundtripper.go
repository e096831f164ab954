// SPDX-FileCopyrightText: 2020 SAP SE
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
)

// RoundTripper is a http.RoundTripper that redirects some hosts to
// http.Handler instances, and can simulate transport failures for others.
type RoundTripper struct {
	Handlers map[string]http.Handler
	// Requests to these hosts fail with the given error before reaching any handler.
	Failures map[string]error
}

var originalDefaultTransport http.RoundTripper

// WithRoundTripper sets up a RoundTripper instance as the default HTTP
// transport for the duration of the given action.
func WithRoundTripper(action func(*RoundTripper)) {
	if originalDefaultTransport != nil {
		panic("WithRoundTripper calls may not be nested")
	}

	t := RoundTripper{
		Handlers: make(map[string]http.Handler),
		Failures: make(map[string]error),
	}
	originalDefaultTransport = http.DefaultTransport
	http.DefaultTransport = &t
	// The cleanup is in a defer, rather than just at the end of the function,
	// in order to work correctly even if action() does a t.Fatal() or panic().
	defer func() {
		http.DefaultTransport = originalDefaultTransport
		originalDefaultTransport = nil
	}()

	action(&t)
}

// RoundTrip implements the http.RoundTripper interface.
func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Failures[req.URL.Host]; err != nil {
		return nil, err
	}

	// requests for unknown hosts must not leave the test process
	h := t.Handlers[req.URL.Host]
	if h == nil {
		return nil, fmt.Errorf("no handler registered for host %q", req.URL.Host)
	}

	// server-side handlers expect a non-nil body
	if req.Body == nil {
		req.Body = http.NoBody
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	resp := w.Result()

	// in practice, most HTTP handlers for GET/HEAD requests write into the
	// response body regardless of whether the method was GET or HEAD; strip the
	// response body from HEAD responses to align with net/http's actual behavior
	if req.Method == http.MethodHead {
		resp.Body = http.NoBody
	}

	return resp, nil
}
