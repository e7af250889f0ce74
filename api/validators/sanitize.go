package validators

import (
	"reflect"
	"strings"
)

const sanitizeTag = "sanitize"

// TrimStrings trims surrounding whitespace from every exported string field
// reachable from dest, so "required" also rejects blank input. Fields tagged
// `sanitize:"-"` are left untouched.
func TrimStrings(dest any) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	trimValue(v.Elem())
}

func trimValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			trimValue(v.Elem())
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.String {
			for i := 0; i < v.Len(); i++ {
				trimValue(v.Index(i))
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() || field.Tag.Get(sanitizeTag) == "-" {
				continue
			}
			trimValue(v.Field(i))
		}
	}
}
