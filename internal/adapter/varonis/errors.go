package varonis

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
)

var (
	// ErrUnauthorized means the credentials were rejected or the token is
	// not accepted. It is never retried.
	ErrUnauthorized = errors.New("authorization failed")

	// ErrNoRowLocation means the search response had no "rows" data location.
	ErrNoRowLocation = errors.New("search response has no rows location")
)

// AuthErrorMessage is what operators see when credentials are wrong.
const AuthErrorMessage = "Authorization Error: make sure username and password are correctly set"

// classify tags authentication failures so callers can test for them with
// errors.Is.
func classify(err error) error {
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
