package rabbitmq

import (
	"net/url"
	"syscall"

	"github.com/go-faster/errors"
)

// MaskURL replaces the password of a broker URI so it can be logged.
// Anything that does not parse is hidden completely.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable broker url>"
	}
	return u.Redacted()
}

// IsConnRefused reports whether err comes from a refused TCP dial.
func IsConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
