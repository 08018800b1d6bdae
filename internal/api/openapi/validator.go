// Пакет openapi — встроенный OpenAPI-контракт Intake Module и middleware
// валидации запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
)

//go:embed openapi.yaml
var contractYAML []byte

// Raw возвращает исходный текст контракта.
func Raw() []byte {
	return contractYAML
}

// Load разбирает и проверяет встроенный контракт.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("невалидный OpenAPI: %w", err)
	}
	return doc, nil
}

// Validator проверяет параметры и тело запроса по контракту.
// Маршрут определяется по шаблону chi, поэтому middleware подключается
// к конкретным маршрутам (chi.With), где шаблон уже известен.
type Validator struct {
	doc    *openapi3.T
	opts   *openapi3filter.Options
	logger *slog.Logger
}

// NewValidator создаёт Validator для загруженного контракта.
func NewValidator(doc *openapi3.T, logger *slog.Logger) *Validator {
	return &Validator{
		doc: doc,
		opts: &openapi3filter.Options{
			// Аутентификация выполняется JWT middleware и проверкой подписи.
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		logger: logger.With(slog.String("component", "openapi_validator")),
	}
}

// Middleware возвращает middleware валидации.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, ok := v.findRoute(r)
		if !ok {
			v.logger.Debug("Маршрут отсутствует в контракте",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
			return
		}

		err := openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options:    v.opts,
		})
		if err != nil {
			apierrors.ValidationError(w, validationMessage(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// findRoute ищет операцию контракта по шаблону маршрута chi.
func (v *Validator) findRoute(r *http.Request) (*routers.Route, map[string]string, bool) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil, nil, false
	}
	pattern := rctx.RoutePattern()
	pathItem := v.doc.Paths.Value(pattern)
	if pathItem == nil {
		return nil, nil, false
	}
	op := pathItem.GetOperation(r.Method)
	if op == nil {
		return nil, nil, false
	}

	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" {
			continue
		}
		params[k] = rctx.URLParams.Values[i]
	}

	return &routers.Route{
		Spec:      v.doc,
		Path:      pattern,
		PathItem:  pathItem,
		Method:    r.Method,
		Operation: op,
	}, params, true
}

// validationMessage формирует краткое сообщение об ошибке валидации.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			field := "тело запроса"
			if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
				field = strings.Join(ptr, ".")
			}
			if reqErr.Parameter != nil {
				field = "параметр " + reqErr.Parameter.Name
			}
			return fmt.Sprintf("%s: %s", field, schemaErr.Reason)
		}
		if reqErr.Parameter != nil {
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, reqErr.Error())
		}
		return reqErr.Error()
	}
	return err.Error()
}
