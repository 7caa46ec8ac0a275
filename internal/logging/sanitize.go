package logging

import (
	"fmt"
	"reflect"
	"strings"
)

// MaskedValue replaces any value judged to be a secret before rendering.
const MaskedValue = "********"

// secretKeyFragments are matched against map keys and struct field names
// after lowercasing and stripping separators, so "api_key", "api-key" and
// "ApiKey" all hit the same fragment. A hit masks the whole value.
var secretKeyFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"accesskey",
	"privatekey",
	"accountkey",
}

var keyNormalizer = strings.NewReplacer("_", "", "-", "")

func isSecretKey(key string) bool {
	normalized := keyNormalizer.Replace(strings.ToLower(key))
	for _, fragment := range secretKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// SanitizeFields returns a copy of fields with secret values masked.
// Nested maps, slices and structs are walked recursively so a secret buried
// inside a config struct never reaches log output.
func SanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		if isSecretKey(key) {
			sanitized[key] = MaskedValue
			continue
		}
		sanitized[key] = sanitizeValue(value)
	}
	return sanitized
}

func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return SanitizeFields(v)
	case map[string]string:
		sanitized := make(map[string]string, len(v))
		for key, val := range v {
			if isSecretKey(key) {
				sanitized[key] = MaskedValue
			} else {
				sanitized[key] = val
			}
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, len(v))
		for i, item := range v {
			sanitized[i] = sanitizeValue(item)
		}
		return sanitized
	case []string:
		return v
	case string, bool, error,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return sanitizeReflected(reflect.ValueOf(value))
	}
}

// sanitizeReflected handles arbitrary structs and pointers by rendering them
// into a map with secret-named fields masked. The result is a static
// representation, not the original value, which keeps the original struct
// from leaking through a formatter that ignores our masking.
func sanitizeReflected(rv reflect.Value) interface{} {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeReflected(rv.Elem())
	case reflect.Struct:
		rt := rv.Type()
		out := make(map[string]interface{}, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			if isSecretKey(field.Name) {
				out[field.Name] = MaskedValue
				continue
			}
			if rv.Field(i).CanInterface() {
				out[field.Name] = sanitizeValue(rv.Field(i).Interface())
			}
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			keyStr := fmt.Sprintf("%v", key.Interface())
			if isSecretKey(keyStr) {
				out[keyStr] = MaskedValue
				continue
			}
			out[keyStr] = sanitizeValue(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i).Interface())
		}
		return out
	default:
		if rv.IsValid() && rv.CanInterface() {
			return rv.Interface()
		}
		return nil
	}
}

// MaskCommandArgs masks values of password-carrying command line flags in an
// argument vector, covering both "--flag=value" and "--flag value" shapes and
// the mysql-style combined "-pSECRET" form.
func MaskCommandArgs(args []string) []string {
	masked := make([]string, len(args))
	maskNext := false

	for i, arg := range args {
		if maskNext {
			masked[i] = MaskedValue
			maskNext = false
			continue
		}

		switch {
		case strings.HasPrefix(arg, "-p") && len(arg) > 2 && !strings.HasPrefix(arg, "--"):
			masked[i] = "-p" + MaskedValue
		case strings.Contains(arg, "="):
			parts := strings.SplitN(arg, "=", 2)
			if isSecretKey(strings.TrimLeft(parts[0], "-")) {
				masked[i] = parts[0] + "=" + MaskedValue
			} else {
				masked[i] = arg
			}
		case isSecretKey(strings.TrimLeft(arg, "-")) && strings.HasPrefix(arg, "-"):
			masked[i] = arg
			maskNext = true
		default:
			masked[i] = arg
		}
	}
	return masked
}

// MaskConnectionString masks the password portion of a DSN of the form
// user:password@tcp(host:port)/db.
func MaskConnectionString(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	colon := strings.Index(dsn[:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:colon+1] + MaskedValue + dsn[at:]
}
