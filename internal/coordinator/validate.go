package coordinator

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maneesh/mediadrop/internal/upload"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report json names so field errors line up with the wire form.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return sessionIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("objectpath", func(fl validator.FieldLevel) bool {
		return validObjectPath(fl.Field().String())
	})
	return v
}

// Validate checks a request body against its validate tags with the rules
// the coordinator applies to its own requests.
func (c *Coordinator) Validate(ctx context.Context, v any) error {
	if err := c.validate.StructCtx(ctx, v); err != nil {
		return upload.NewError(upload.ErrInvalidRequest, "", err)
	}
	return nil
}

// validObjectPath accepts relative slash-separated keys without dot segments.
func validObjectPath(p string) bool {
	if p == "" {
		return true
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, seg := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// FieldErrors flattens validation failures in err to field -> message.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte", "gt":
		return "is too small"
	case "max", "lte", "ltfield":
		return "is too large"
	case "oneof":
		return "must be one of " + fe.Param()
	case "sessionid":
		return "must be 1-128 letters, digits, '-' or '_'"
	case "objectpath":
		return "must be a relative path without dot segments"
	default:
		return "is invalid"
	}
}
