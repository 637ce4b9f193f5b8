package backend

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

// responseEnvelope wrapper around every successful response
type responseEnvelope struct {
	Response interface{} `json:"response"`
}

// requestError the request itself is invalid
type requestError struct {
	err error
}

func (e requestError) Error() string {
	return e.err.Error()
}

func (e requestError) Unwrap() error {
	return e.err
}

// authError the request is not authorized
type authError struct{}

func (e authError) Error() string {
	return "invalid API key"
}

// errorStatus map a handler failure to the HTTP status replied
func errorStatus(err error) int {
	var reqErr requestError
	var unauthorized authError
	switch {
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// pathVar read and unescape a path variable
func pathVar(r *http.Request, name string) (string, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok || raw == "" {
		return "", requestError{err: fmt.Errorf("no %s provided", name)}
	}
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", requestError{err: fmt.Errorf("invalid %s '%s': %w", name, raw, err)}
	}
	return value, nil
}

// ========================================================================================
// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}
