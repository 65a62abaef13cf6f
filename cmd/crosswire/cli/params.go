// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// FlagBinder is implemented by parameter struct fields that register their
// own flags instead of relying on `flag:` struct tags. BindFlags calls
// AddFlags on any exported field whose pointer implements the interface.
type FlagBinder interface {
	AddFlags(fs *pflag.FlagSet)
}

// FlagsFromParams builds a pflag.FlagSet from a parameter struct's `flag:`
// tags. Commands declare their flags as a struct and bind it once:
//
//	type statusParams struct {
//		cli.JSONOutput
//		SocketPath string `flag:"socket,s" desc:"Path to the bridge admin socket"`
//		Check      bool   `flag:"check" desc:"Exit 1 unless the bridge is running"`
//	}
//
//	params := &statusParams{}
//	cmd := &cli.Command{
//		Flags: func() *pflag.FlagSet {
//			return cli.FlagsFromParams("status", params)
//		},
//		...
//	}
//
// The tag format is `flag:"name"` or `flag:"name,shorthand"`. The `desc:`
// tag provides the help text and the `default:` tag the initial value.
// FlagsFromParams panics on malformed tags since that is a wiring bug, not
// a runtime condition.
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(flagSet, params); err != nil {
		panic(fmt.Sprintf("binding flags for %q: %v", name, err))
	}
	return flagSet
}

// BindFlags registers flags on flagSet for each tagged field of params,
// which must be a pointer to a struct. Embedded structs are walked
// recursively; fields implementing FlagBinder register themselves.
func BindFlags(flagSet *pflag.FlagSet, params any) error {
	rv := reflect.ValueOf(params)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a non-nil pointer to struct, got %T", params)
	}
	return bindStructFields(flagSet, rv.Elem())
}

func bindStructFields(flagSet *pflag.FlagSet, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		value := rv.Field(i)

		if !field.IsExported() {
			continue
		}

		// A field that binds itself takes priority over tags and
		// embedding.
		if value.CanAddr() {
			if binder, ok := value.Addr().Interface().(FlagBinder); ok {
				binder.AddFlags(flagSet)
				continue
			}
		}

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindStructFields(flagSet, value); err != nil {
				return err
			}
			continue
		}

		tag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}

		if err := bindField(flagSet, field, value, tag); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

// parseFlagTag splits a `flag:"name,shorthand"` tag value.
func parseFlagTag(tag string) (name, shorthand string) {
	parts := strings.SplitN(tag, ",", 2)
	name = parts[0]
	if len(parts) == 2 {
		shorthand = parts[1]
	}
	return name, shorthand
}

func bindField(flagSet *pflag.FlagSet, field reflect.StructField, value reflect.Value, tag string) error {
	name, shorthand := parseFlagTag(tag)
	if name == "" {
		return fmt.Errorf("empty flag name in tag %q", tag)
	}
	desc := field.Tag.Get("desc")
	defaultStr, hasDefault := field.Tag.Lookup("default")

	if !value.CanAddr() {
		return fmt.Errorf("field is not addressable")
	}

	// time.Duration has int64 kind; match the concrete type first.
	if field.Type == reflect.TypeOf(time.Duration(0)) {
		ptr := value.Addr().Interface().(*time.Duration)
		var def time.Duration
		if hasDefault {
			parsed, err := time.ParseDuration(defaultStr)
			if err != nil {
				return fmt.Errorf("invalid duration default %q: %w", defaultStr, err)
			}
			def = parsed
		}
		flagSet.DurationVarP(ptr, name, shorthand, def, desc)
		return nil
	}

	switch field.Type.Kind() {
	case reflect.String:
		ptr, ok := value.Addr().Interface().(*string)
		if !ok {
			return fmt.Errorf("unsupported string type %s", field.Type)
		}
		flagSet.StringVarP(ptr, name, shorthand, defaultStr, desc)

	case reflect.Bool:
		ptr, ok := value.Addr().Interface().(*bool)
		if !ok {
			return fmt.Errorf("unsupported bool type %s", field.Type)
		}
		var def bool
		if hasDefault {
			parsed, err := strconv.ParseBool(defaultStr)
			if err != nil {
				return fmt.Errorf("invalid bool default %q: %w", defaultStr, err)
			}
			def = parsed
		}
		flagSet.BoolVarP(ptr, name, shorthand, def, desc)

	case reflect.Int:
		ptr, ok := value.Addr().Interface().(*int)
		if !ok {
			return fmt.Errorf("unsupported int type %s", field.Type)
		}
		var def int
		if hasDefault {
			parsed, err := strconv.Atoi(defaultStr)
			if err != nil {
				return fmt.Errorf("invalid int default %q: %w", defaultStr, err)
			}
			def = parsed
		}
		flagSet.IntVarP(ptr, name, shorthand, def, desc)

	case reflect.Int64:
		ptr, ok := value.Addr().Interface().(*int64)
		if !ok {
			return fmt.Errorf("unsupported int64 type %s", field.Type)
		}
		var def int64
		if hasDefault {
			parsed, err := strconv.ParseInt(defaultStr, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 default %q: %w", defaultStr, err)
			}
			def = parsed
		}
		flagSet.Int64VarP(ptr, name, shorthand, def, desc)

	case reflect.Float64:
		ptr, ok := value.Addr().Interface().(*float64)
		if !ok {
			return fmt.Errorf("unsupported float64 type %s", field.Type)
		}
		var def float64
		if hasDefault {
			parsed, err := strconv.ParseFloat(defaultStr, 64)
			if err != nil {
				return fmt.Errorf("invalid float64 default %q: %w", defaultStr, err)
			}
			def = parsed
		}
		flagSet.Float64VarP(ptr, name, shorthand, def, desc)

	case reflect.Slice:
		if field.Type.Elem().Kind() != reflect.String || field.Type != reflect.TypeOf([]string(nil)) {
			return fmt.Errorf("unsupported slice type %s (only []string)", field.Type)
		}
		ptr := value.Addr().Interface().(*[]string)
		var def []string
		if hasDefault && defaultStr != "" {
			def = strings.Split(defaultStr, ",")
		}
		flagSet.StringSliceVarP(ptr, name, shorthand, def, desc)

	default:
		return fmt.Errorf("unsupported field type %s", field.Type)
	}
	return nil
}
