package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GetDomain returns the registrable part of the caller's Origin (or Referer)
// host, used to scope session cookies across subdomains.
func GetDomain(r *http.Request) string {
	origin := getOrigin(r)
	if origin == "" {
		return ""
	}
	if !strings.HasPrefix(origin, "http") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	// u.Host is "dev.example.com:3000", but Hostname() drops the ":3000"
	host := u.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		// covers "localhost" or "example.com"
		return host
	}
	n := len(parts)
	return parts[n-2] + "." + parts[n-1]
}

func getOrigin(r *http.Request) string {
	if v := r.Header.Get("Origin"); v != "" {
		return v
	}
	if v := r.Header.Get("Referer"); v != "" {
		return v
	}
	return ""
}

// RequestURL rebuilds the URL the client asked for, honouring proxy headers.
func RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
