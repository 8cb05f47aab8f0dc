package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
)

// Minimal internal validator to avoid an extra dependency. Supports:
// - required
// - addrok  (bech32-ish account address, 3-128 chars, lowercase alnum)
// - denomok (token denom like "uusdc", 2-16 lowercase letters/digits)
// - refok   (opaque storage/evidence reference, up to 512 visible chars)

var (
	reAddrOK  = regexp.MustCompile(`^[a-z0-9]{3,128}$`)
	reDenomOK = regexp.MustCompile(`^[a-z][a-z0-9/]{1,15}$`)
	reRefOK   = regexp.MustCompile(`^[\x21-\x7e]{1,512}$`)
)

// ValidateStruct inspects struct tags `validate:"..."` and returns the first error encountered.
func ValidateStruct(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.New("ValidateStruct expects a struct or pointer to struct")
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("validate")
		if tag == "" {
			continue
		}
		fv := v.Field(i)
		var sval string
		if fv.IsValid() && fv.Kind() == reflect.String {
			sval = fv.String()
		}
		for _, p := range strings.Split(tag, ",") {
			switch strings.TrimSpace(p) {
			case "required":
				if sval == "" {
					return errors.New(field.Name + " is required")
				}
			case "addrok":
				if sval != "" && !reAddrOK.MatchString(sval) {
					return errors.New(field.Name + " is not a valid account address")
				}
			case "denomok":
				if sval != "" && !reDenomOK.MatchString(sval) {
					return errors.New(field.Name + " is not a valid denom")
				}
			case "refok":
				if sval != "" && !reRefOK.MatchString(sval) {
					return errors.New(field.Name + " is not a valid reference")
				}
			}
		}
	}
	return nil
}
