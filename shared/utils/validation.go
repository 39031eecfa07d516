package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validator report fields by their json names
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
}

// Bind decodes the request into req with gin's binder. On failure it writes
// a 422 with per-field messages and returns false.
func Bind(c *gin.Context, req interface{}) bool {
	useJSONFieldNames()
	if err := c.ShouldBind(req); err != nil {
		fields := FieldErrors(err)
		if fields == nil {
			BadRequestResponse(c, "Invalid request body: "+err.Error())
			return false
		}
		ValidationErrorResponse(c, "The given data was invalid.", fields)
		return false
	}
	return true
}

// BindQuery is Bind for query strings
func BindQuery(c *gin.Context, req interface{}) bool {
	useJSONFieldNames()
	if err := c.ShouldBindQuery(req); err != nil {
		fields := FieldErrors(err)
		if fields == nil {
			BadRequestResponse(c, "Invalid query: "+err.Error())
			return false
		}
		ValidationErrorResponse(c, "The given data was invalid.", fields)
		return false
	}
	return true
}

// FieldErrors converts validator errors into field messages. It returns nil
// when err is not a validation failure (malformed JSON, wrong types).
func FieldErrors(err error) map[string][]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], fieldMessage(fe))
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("The %s must be at least %s characters.", field, fe.Param())
		}
		return fmt.Sprintf("The %s must be at least %s.", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("The %s may not be greater than %s characters.", field, fe.Param())
		}
		return fmt.Sprintf("The %s may not be greater than %s.", field, fe.Param())
	case "eqfield":
		return fmt.Sprintf("The %s confirmation does not match.", strings.ReplaceAll(strings.ToLower(fe.Param()), "_", " "))
	case "uuid":
		return fmt.Sprintf("The %s must be a valid UUID.", field)
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", field)
	default:
		return fmt.Sprintf("The %s field is invalid.", field)
	}
}
