package validate

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structOnce sync.Once
	structV    *validator.Validate
)

func structValidator() *validator.Validate {
	structOnce.Do(func() {
		structV = validator.New(validator.WithRequiredStructEnabled())
		structV.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return structV
}

// Struct runs tag validation on s and returns an *Error, or nil.
func Struct(s any) error {
	return newError(checkStruct(s))
}

// checkStruct runs tag validation on s and converts failures into field
// errors rooted at s.
func checkStruct(s any) []FieldError {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{fieldError(err.Error(), "value_error")}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Loc:  namespaceLoc(fe.Namespace()),
			Msg:  tagMessage(fe.Tag(), fe.Param()),
			Type: tagType(fe.Tag()),
		})
	}
	return out
}

// namespaceLoc turns "options.rules[0].rule_class" into
// ["rules", "0", "rule_class"], dropping the root struct name.
func namespaceLoc(ns string) []string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	loc := []string{}
	for _, p := range parts {
		if i := strings.IndexByte(p, '['); i >= 0 && strings.HasSuffix(p, "]") {
			loc = append(loc, p[:i], p[i+1:len(p)-1])
			continue
		}
		loc = append(loc, p)
	}
	return loc
}

func tagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "Field required"
	case "oneof":
		choices := strings.Fields(param)
		return "Input should be " + joinChoices(choices)
	case "gt":
		return "Input should be greater than " + param
	case "gte":
		return "Input should be greater than or equal to " + param
	case "lt":
		return "Input should be less than " + param
	case "lte":
		return "Input should be less than or equal to " + param
	case "min":
		return "List should have at least " + param + " " + plural(param, "item")
	case "max":
		return "List should have at most " + param + " " + plural(param, "item")
	default:
		return fmt.Sprintf("Failed on the '%s' rule", tag)
	}
}

func tagType(tag string) string {
	switch tag {
	case "required":
		return "missing"
	case "oneof":
		return "literal_error"
	case "gt":
		return "greater_than"
	case "gte":
		return "greater_than_equal"
	case "lt":
		return "less_than"
	case "lte":
		return "less_than_equal"
	case "min":
		return "too_short"
	case "max":
		return "too_long"
	default:
		return "value_error"
	}
}

func joinChoices(choices []string) string {
	switch len(choices) {
	case 0:
		return ""
	case 1:
		return choices[0]
	}
	return strings.Join(choices[:len(choices)-1], ", ") + " or " + choices[len(choices)-1]
}

func plural(n, word string) string {
	if v, err := strconv.Atoi(n); err == nil && v == 1 {
		return word
	}
	return word + "s"
}
