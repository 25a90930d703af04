package catalog

import (
	"math"
	"strconv"
	"strings"
)

// ValidationError reports why a record failed validation. It is terminal:
// records that fail validation are never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid record: " + e.Reason }

func invalid(reason string) error { return &ValidationError{Reason: reason} }

// ValidateOptions controls how the identity rules are applied.
type ValidateOptions struct {
	// RequireID demands an id on the record. When the id is absent and
	// AllowAbsentID is set, the entity gets SentinelID instead.
	RequireID bool

	// AllowAbsentID relaxes RequireID: the id may be missing entirely, but
	// if present it must still be a non-empty string.
	AllowAbsentID bool
}

// Validate checks one untyped record against the catalog-entry schema and
// returns the normalized entity. Rules are applied in order and
// short-circuit on the first failure; every failure is a *ValidationError.
func Validate(raw map[string]any, opts ValidateOptions) (Entity, error) {
	var e Entity

	id, idPresent, idIsString := stringField(raw, "id")
	switch {
	case !opts.RequireID:
		// id ignored on input
	case !opts.AllowAbsentID:
		if !idIsString || strings.TrimSpace(id) == "" {
			return e, invalid("id must be a non-empty string")
		}
	default:
		if idPresent && (!idIsString || strings.TrimSpace(id) == "") {
			return e, invalid("id must be absent or a non-empty string")
		}
	}

	title, _, titleIsString := stringField(raw, "title")
	if !titleIsString || strings.TrimSpace(title) == "" {
		return e, invalid("title must be a non-empty string")
	}
	description, _, descIsString := stringField(raw, "description")
	if !descIsString || strings.TrimSpace(description) == "" {
		return e, invalid("description must be a non-empty string")
	}

	price, ok := numberField(raw, "price")
	if !ok {
		return e, invalid("price must be a finite number")
	}
	count, ok := numberField(raw, "count")
	if !ok {
		return e, invalid("count must be a finite number")
	}
	if price < 0 || count < 0 {
		return e, invalid("price and count must be non-negative")
	}
	if math.Trunc(count) != count {
		return e, invalid("count must be an integer")
	}

	// empty string is allowed and means "no image"
	var imageURL *string
	if v, present := raw["imageURL"]; present {
		s, isString := v.(string)
		if !isString {
			return e, invalid("imageURL must be a string")
		}
		imageURL = &s
	}

	category := DefaultCategory
	if v, present := raw["category"]; present {
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return e, invalid("category must be a non-empty string")
		}
		category = s
	}

	if opts.RequireID && id == "" {
		id = SentinelID
	}

	e = Entity{
		ID:          id,
		Category:    category,
		Title:       title,
		Description: description,
		Price:       price,
		Count:       int64(count),
		ImageURL:    imageURL,
	}
	if !opts.RequireID {
		e.ID = ""
	}
	return e, nil
}

func stringField(raw map[string]any, key string) (val string, present, isString bool) {
	v, present := raw[key]
	if !present {
		return "", false, false
	}
	s, ok := v.(string)
	return s, true, ok
}

// numberField coerces a field to a finite float64. JSON numbers pass
// through; strings are parsed, except the empty string, which is invalid
// rather than zero.
func numberField(raw map[string]any, key string) (float64, bool) {
	v, present := raw[key]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
