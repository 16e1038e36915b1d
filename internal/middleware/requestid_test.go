package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "missing", inbound: "", keep: false},
		{name: "propagated", inbound: "abc-123", keep: true},
		{name: "too long", inbound: strings.Repeat("x", 200), keep: false},
		{name: "control characters", inbound: "abc\x01def", keep: false},
		{name: "spaces", inbound: "abc def", keep: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				req.Header.Set(RequestIDHeader, tc.inbound)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, rr.Header().Get(RequestIDHeader))
			}
			if tc.keep != (seen == tc.inbound) {
				t.Fatalf("id = %q, inbound %q, keep %v", seen, tc.inbound, tc.keep)
			}
		})
	}
}
