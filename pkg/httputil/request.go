package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/gorilla/mux"
)

// DecodeJSON decodes the request body into dest. Malformed input is a
// ValidationError on the body; an empty body leaves dest untouched.
func DecodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Invalid("body", "request body too large")
		}
		return apperr.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

// PathVar returns a required path variable
func PathVar(r *http.Request, key string) (string, error) {
	val := mux.Vars(r)[key]
	if val == "" {
		return "", apperr.Invalid(key, "missing path parameter")
	}
	return val, nil
}

// ParseQueryInt extracts an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperr.Invalid(key, "invalid integer: %s", str)
	}
	return val, nil
}

// ParsePage reads the page and limit query parameters. Zero values are left for
// the service to default.
func ParsePage(r *http.Request) (page, limit int, err error) {
	if page, err = ParseQueryInt(r, "page", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = ParseQueryInt(r, "limit", 0); err != nil {
		return 0, 0, err
	}
	if page < 0 {
		return 0, 0, apperr.Invalid("page", "must not be negative")
	}
	if limit < 0 {
		return 0, 0, apperr.Invalid("limit", "must not be negative")
	}
	return page, limit, nil
}
