package connection

import (
	"fmt"
	"net/url"
)

// Endpoint builds the WebSocket URL for a subject.
//
// base is the URL the client is served from: https and wss produce a wss
// endpoint, http and ws produce ws. Only the scheme and host of base are
// used; its path, query and fragment are dropped. The subject id is escaped
// as a single path segment and appended to path. An empty id, "." or ".."
// yields an error wrapping ErrInvalidSubject.
func Endpoint(base, path, subjectID string) (string, error) {
	switch subjectID {
	case "", ".", "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = "/"
	u.RawPath = ""

	return u.JoinPath(path, url.PathEscape(subjectID)).String(), nil
}
