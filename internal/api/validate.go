package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"go.uber.org/zap"
)

//go:embed openapi.yaml
var openapiSpec []byte

// validator rejects requests that do not match openapi.yaml, which pins the
// level enum and the required body query parameter.
type validator struct {
	router routers.Router
}

func newValidator(ctx context.Context) (*validator, error) {
	doc, err := openapi3.NewLoader().LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	return &validator{router: router}, nil
}

// errInvalidBody rejects bodies that OTLP cannot encode as a string attribute.
var errInvalidBody = errors.New("body is not valid UTF-8")

// check returns nil when r matches a documented operation. Requests with no
// documented route also return nil so the router can answer 404 or 405.
func (v *validator) check(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return nil
	}
	if body := r.URL.Query().Get("body"); !utf8.ValidString(body) {
		return errInvalidBody
	}
	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	})
}

func (v *validator) middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.check(r); err != nil {
				logger.Debug("request rejected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
