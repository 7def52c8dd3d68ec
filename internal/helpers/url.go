package helpers

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ResolveURL resolves ref against base the way a browser would and rejects
// anything that is not http(s).
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty url")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if !r.IsAbs() {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return "", err
		}
		if !b.IsAbs() {
			return "", errors.New("relative url without absolute base")
		}
		r = b.ResolveReference(r)
	}
	switch strings.ToLower(r.Scheme) {
	case "http", "https":
	default:
		return "", errors.New("unsupported scheme " + r.Scheme)
	}
	r.Fragment = ""
	return r.String(), nil
}

// Extension returns the lowercase file extension of the URL path, without query.
func Extension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// SubmitFallback derives the conventional "<task>/submit" endpoint.
func SubmitFallback(taskURL string) string {
	u, err := url.Parse(taskURL)
	if err != nil {
		return strings.TrimRight(taskURL, "/") + "/submit"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/submit"
	return u.String()
}
