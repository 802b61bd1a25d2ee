package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/env"
)

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

var (
	// ErrNotStructPtr indicates a type is not a pointer to a struct.
	ErrNotStructPtr = errors.New("must be a pointer to a struct")

	// ErrRequired indicates a required variable is not present.
	ErrRequired = errors.New("required variable is not present")

	// ErrInvalidBool indicates a bool value is not recognized.
	ErrInvalidBool = errors.New("invalid bool value")
)

// Parse populates a struct with the retrieved values from environment variables
// described by struct tags and applies the defined validations.
func Parse(conf interface{}) error {
	return parse(conf, env.NewRepository())
}

func parse(conf interface{}, envGetter EnvGetter) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []string
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to parse inputs:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func parseTag(tag string) (string, string) {
	if key, constraint, found := strings.Cut(tag, ","); found {
		return key, constraint
	}
	return tag, ""
}

func setField(field reflect.Value, value, constraint string) error {
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("can't convert to int: %s", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("can't convert to float: %s", err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}

	return nil
}

func validateConstraint(value, constraint string) error {
	switch constraint {
	case "":
		break
	case "required":
		if value == "" {
			return ErrRequired
		}
	case "file", "dir":
		if err := checkPath(value, constraint == "dir"); err != nil {
			return err
		}
	default:
		opts, ok := parseOpts(constraint)
		if !ok {
			return fmt.Errorf("invalid constraint (%s)", constraint)
		}
		if !contains(opts, value) {
			return fmt.Errorf("value is not in value options (%s)", strings.Join(opts, ", "))
		}
	}

	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, ErrInvalidBool
	}
	return b, nil
}

func checkPath(path string, dir bool) error {
	file, err := os.Stat(path)
	if err != nil {
		return err
	}
	if dir && !file.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

// parseOpts returns the options of an `opt[first,second,'with,comma']` constraint.
func parseOpts(constraint string) ([]string, bool) {
	if !strings.HasPrefix(constraint, "opt[") || !strings.HasSuffix(constraint, "]") {
		return nil, false
	}
	list := strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]")

	var (
		opts    []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			opts = append(opts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	opts = append(opts, current.String())

	return opts, true
}

func contains(opts []string, value string) bool {
	for _, opt := range opts {
		if opt == value {
			return true
		}
	}
	return false
}

// Print the name of the struct with Title case in blue color with followed by a newline,
// then print all fields formatted as '- field name: field value` separated by newline.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	t := reflect.TypeOf(config)

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	str := fmt.Sprint(colorstring.Bluef("%s:\n", title(t.Name())))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		key := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			key, _ = parseTag(tag)
		}

		value := "<unset>"
		if !v.Field(i).IsZero() {
			value = valueString(v.Field(i))
		}

		str += fmt.Sprintf("- %s: %s\n", key, value)
	}

	return str
}

// valueString returns the string representation of a value,
// if it is a pointer, it returns the string representation of the pointed value.
func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		return fmt.Sprintf("%v", v.Interface())
	}

	if !v.IsNil() {
		return fmt.Sprintf("%v", v.Elem().Interface())
	}

	return ""
}

func title(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
