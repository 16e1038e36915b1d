package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type (
	countryContextKey  struct{}
	clientIPContextKey struct{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// ClientAddr stores the requester identity in the request context. The first
// valid X-Forwarded-For entry is honoured only when trustProxy is set;
// otherwise the connection's remote host is used.
func ClientAddr(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteHost(r)
			if trustProxy {
				if fwd := forwardedFor(r); fwd != "" {
					ip = fwd
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPContextKey{}, ip)))
		})
	}
}

// ClientIP returns the requester identity used for admission control. Without
// ClientAddr in the chain it is the remote host.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Context().Value(clientIPContextKey{}).(string); ok && v != "" {
		return v
	}
	return remoteHost(r)
}

func forwardedFor(r *http.Request) string {
	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return ""
	}
	for _, part := range strings.Split(xf, ",") {
		ip := strings.TrimSpace(part)
		if ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}

// Country stores a best-effort ISO country code for the requester in the
// request context. Edge-provided headers win over the GeoIP lookup.
func Country(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if country := ResolveCountry(r, lookup); country != "" {
				r = r.WithContext(context.WithValue(r.Context(), countryContextKey{}, country))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(countryContextKey{}).(string); ok {
		return v
	}
	return ""
}
