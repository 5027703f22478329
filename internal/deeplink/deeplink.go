// Package deeplink exposes the URL the process was launched with and helpers
// for pulling query parameters out of redirect callbacks.
package deeplink

import "net/url"

// Source provides the initial launch URL, when there is one. For a process
// resumed by an authorization redirect this is the redirect URL itself.
type Source interface {
	InitialURL() (string, bool)
}

// StaticSource is a Source with a fixed launch URL, typically handed in by
// the platform shell at startup. An empty URL means the process was not
// launched through a link.
type StaticSource struct {
	URL string
}

func (s StaticSource) InitialURL() (string, bool) {
	if s.URL == "" {
		return "", false
	}
	return s.URL, true
}

// QueryParam extracts a single query parameter from a link URL. Returns
// false when the URL does not parse or the parameter is absent.
func QueryParam(link, name string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	v := u.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}
