package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func invalidQuery(key, message string, err error) *pkgerrors.Error {
	details := map[string]any{"field": key}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, message).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
}

// ParseQueryInt returns defaultVal when key is absent and rejects values
// outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidQuery(key, "query parameter must be numeric", err)
	}
	if value < min || value > max {
		return 0, invalidQuery(key, "query parameter out of range", nil).
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidQuery(key, "query parameter must be true or false", err)
	}
	return value, nil
}

// ParseQueryUUID returns nil for an absent optional parameter.
func ParseQueryUUID(r *http.Request, key string, required bool) (*uuid.UUID, error) {
	raw := queryValue(r, key)
	if raw == "" {
		if required {
			return nil, invalidQuery(key, "query parameter is required", nil)
		}
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, invalidQuery(key, "query parameter must be a uuid", err)
	}
	return &id, nil
}

// ParseQueryEnum runs parse over an optional filter such as ?status=active.
func ParseQueryEnum[T any](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	value, err := parse(raw)
	if err != nil {
		return nil, invalidQuery(key, "invalid "+key+" filter", err)
	}
	return &value, nil
}
