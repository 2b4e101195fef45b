package usage

import (
	"fmt"
)

type fieldKind int

const (
	kindBool fieldKind = iota
	kindString
	kindNumber
)

func (k fieldKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindString:
		return "string"
	default:
		return "number"
	}
}

var usageFields = []struct {
	name string
	kind fieldKind
}{
	{"isValid", kindBool},
	{"invalidMessage", kindString},
	{"remaining", kindNumber},
	{"unit", kindString},
	{"total", kindNumber},
	{"used", kindNumber},
	{"planName", kindString},
	{"extra", kindString},
}

// ValidationError names the offending field and, for array results, the
// element index (-1 otherwise).
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + " " + e.Reason
	}
	if e.Index >= 0 {
		return fmt.Sprintf("item [%d]: %s", e.Index, msg)
	}
	return msg
}

// ValidateResult accepts a usage object or a non-empty array of them, as
// decoded by encoding/json. Every recognised field is optional and may be
// null; a present value must have the field's type.
func ValidateResult(v any) error {
	items, isList := v.([]any)
	if !isList {
		return validateUsage(v, -1)
	}
	if len(items) == 0 {
		return &ValidationError{Index: -1, Reason: "result array must not be empty"}
	}
	for i, item := range items {
		if err := validateUsage(item, i); err != nil {
			return err
		}
	}
	return nil
}

func validateUsage(v any, index int) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return &ValidationError{Index: index, Reason: "result must be an object or an array of objects"}
	}
	for _, f := range usageFields {
		val, present := obj[f.name]
		if !present || val == nil {
			continue
		}
		var typeOK bool
		switch f.kind {
		case kindBool:
			_, typeOK = val.(bool)
		case kindString:
			_, typeOK = val.(string)
		case kindNumber:
			_, typeOK = val.(float64)
		}
		if !typeOK {
			return &ValidationError{Index: index, Field: f.name, Reason: fmt.Sprintf("must be a %s or null", f.kind)}
		}
	}
	return nil
}
