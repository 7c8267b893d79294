package resource

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/fileref"
)

// Field options are declared with the picklr struct tag, for example
//
//	Retention *int32 `json:"retention_in_days,omitempty" picklr:"updatable,min=1"`
//
// Recognised options: required, updatable, output, computed, file, oneof=a|b,
// min=N, max=N. A computed field left empty takes the service default and
// is not reported as changed.
const tagName = "picklr"

type field struct {
	name      string
	index     int
	required  bool
	updatable bool
	output    bool
	computed  bool
	file      bool
	oneOf     []string
	min, max  *float64
}

var fieldCache sync.Map // reflect.Type -> []field

func structType(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s", rv.Type())
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%s is not a struct", rv.Type())
	}
	return rv, nil
}

func fieldsOf(t reflect.Type) []field {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]field)
	}

	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		f := field{name: name, index: i}
		for _, opt := range strings.Split(sf.Tag.Get(tagName), ",") {
			key, val, _ := strings.Cut(strings.TrimSpace(opt), "=")
			switch key {
			case "required":
				f.required = true
			case "updatable":
				f.updatable = true
			case "output":
				f.output = true
			case "computed":
				f.computed = true
			case "file":
				f.file = true
			case "oneof":
				f.oneOf = strings.Split(val, "|")
			case "min":
				if n, err := strconv.ParseFloat(val, 64); err == nil {
					f.min = &n
				}
			case "max":
				if n, err := strconv.ParseFloat(val, 64); err == nil {
					f.max = &n
				}
			}
		}
		out = append(out, f)
	}
	fieldCache.Store(t, out)
	return out
}

var diffOpts = cmp.Options{cmpopts.EquateEmpty()}

// Changed returns the names of the non-output fields whose values differ
// between prev and next, which must be the same struct type.
func Changed(prev, next any) (FieldSet, error) {
	pv, err := structType(prev)
	if err != nil {
		return nil, err
	}
	nv, err := structType(next)
	if err != nil {
		return nil, err
	}
	if pv.Type() != nv.Type() {
		return nil, fmt.Errorf("cannot diff %s against %s", pv.Type(), nv.Type())
	}

	changed := FieldSet{}
	for _, f := range fieldsOf(nv.Type()) {
		if f.output {
			continue
		}
		if f.computed && nv.Field(f.index).IsZero() {
			continue
		}
		if !cmp.Equal(pv.Field(f.index).Interface(), nv.Field(f.index).Interface(), diffOpts) {
			changed[f.name] = struct{}{}
		}
	}
	return changed, nil
}

// ReplacementFields returns the changed fields that cannot be updated in
// place. Tags are always updatable.
func ReplacementFields(r any, changed FieldSet) []string {
	rv, err := structType(r)
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range fieldsOf(rv.Type()) {
		if changed.Has(f.name) && !f.updatable && f.name != TagsField {
			out = append(out, f.name)
		}
	}
	slices.Sort(out)
	return out
}

// ValidateFields enforces the required, oneof, min and max options.
func ValidateFields(r any) error {
	rv, err := structType(r)
	if err != nil {
		return err
	}
	for _, f := range fieldsOf(rv.Type()) {
		if f.output {
			continue
		}
		fv := rv.Field(f.index)
		if fv.IsZero() {
			if f.required {
				return errdefs.Configf(f.name, "is required")
			}
			continue
		}
		for fv.Kind() == reflect.Pointer {
			fv = fv.Elem()
		}
		if len(f.oneOf) > 0 {
			if err := checkOneOf(f, fv); err != nil {
				return err
			}
		}
		if f.min != nil || f.max != nil {
			if err := checkRange(f, fv); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkOneOf(f field, v reflect.Value) error {
	values := []reflect.Value{v}
	if v.Kind() == reflect.Slice {
		values = values[:0]
		for i := 0; i < v.Len(); i++ {
			values = append(values, v.Index(i))
		}
	}
	for _, item := range values {
		if item.Kind() != reflect.String {
			continue
		}
		if !slices.Contains(f.oneOf, item.String()) {
			return errdefs.Configf(f.name, "%q is not one of [%s]", item.String(), strings.Join(f.oneOf, ", "))
		}
	}
	return nil
}

func checkRange(f field, v reflect.Value) error {
	var n float64
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		n = v.Float()
	case reflect.String, reflect.Slice, reflect.Map:
		n = float64(v.Len())
	default:
		return nil
	}
	if f.min != nil && n < *f.min {
		return errdefs.Configf(f.name, "must be at least %v, got %v", *f.min, n)
	}
	if f.max != nil && n > *f.max {
		return errdefs.Configf(f.name, "must be at most %v, got %v", *f.max, n)
	}
	return nil
}

// ResolveFiles replaces file-tagged string fields that name a .json file
// with the file's content.
func ResolveFiles(r any, baseDir string) error {
	rv := reflect.ValueOf(r)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ResolveFiles needs a struct pointer, got %T", r)
	}
	rv = rv.Elem()
	for _, f := range fieldsOf(rv.Type()) {
		if !f.file {
			continue
		}
		fv := rv.Field(f.index)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() != reflect.String {
			continue
		}
		resolved, err := fileref.Resolve(f.name, fv.String(), baseDir)
		if err != nil {
			return err
		}
		if err := fileref.MustBeJSON(f.name, resolved); err != nil {
			return err
		}
		fv.SetString(resolved)
	}
	return nil
}

// Inherit copies the output fields of src into dst, along with computed
// fields dst leaves empty. Both must point to the same struct type.
func Inherit(dst, src any) error {
	dv, err := structType(dst)
	if err != nil {
		return err
	}
	sv, err := structType(src)
	if err != nil {
		return err
	}
	if dv.Type() != sv.Type() {
		return fmt.Errorf("cannot inherit %s from %s", dv.Type(), sv.Type())
	}
	for _, f := range fieldsOf(dv.Type()) {
		if f.output || (f.computed && dv.Field(f.index).IsZero()) {
			dv.Field(f.index).Set(sv.Field(f.index))
		}
	}
	return nil
}

// ClearOutputs zeroes every output field of r.
func ClearOutputs(r any) error {
	rv, err := structType(r)
	if err != nil {
		return err
	}
	for _, f := range fieldsOf(rv.Type()) {
		if f.output {
			fv := rv.Field(f.index)
			fv.Set(reflect.Zero(fv.Type()))
		}
	}
	return nil
}
