// Package validation は入力構造体の検証を提供する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// FieldError は最初に失敗したフィールドの情報。
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Error はerrorインターフェースを実装する。
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s failed on %s", e.Field, e.Tag)
}

// Message は画面表示用の英語メッセージを返す。
func (e *FieldError) Message() string {
	label := Label(e.Field)
	switch e.Tag {
	case "required":
		return label + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, e.Param)
	case "email":
		return "Please enter a valid email address"
	default:
		return label + " is invalid"
	}
}

// Struct はsを検証する。失敗した場合は最初のフィールドの*FieldErrorを返す。
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return fmt.Errorf("failed to validate input: %w", err)
}

// Label はフィールド名を先頭大文字の表示名にする。image_path → Image path。
func Label(field string) string {
	if field == "" {
		return field
	}
	s := strings.ReplaceAll(field, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
