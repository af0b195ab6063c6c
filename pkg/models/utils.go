/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

var errNotStruct = errors.New("input must be a struct or pointer to struct")

const (
	sensitiveTag   = "sensitive"
	sensitiveOmit  = "true"
	sensitiveInURL = "url"
)

// Redact flattens a struct into a loggable map keyed by JSON name.
// Fields tagged sensitive:"true" are dropped and fields tagged
// sensitive:"url" keep their URL with the password masked.
func Redact(input any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}

	rv := reflect.ValueOf(input)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{}, nil
		}

		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Struct {
		return nil, errNotStruct
	}

	return redactStruct(rv), nil
}

func redactStruct(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		switch {
		case name == "-":
			continue
		case name == "":
			name = field.Name
		}

		fv := rv.Field(i)

		switch field.Tag.Get(sensitiveTag) {
		case sensitiveOmit:
			continue
		case sensitiveInURL:
			if fv.Kind() == reflect.String {
				out[name] = maskURL(fv.String())

				continue
			}
		}

		out[name] = redactValue(fv)
	}

	return out
}

func redactValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	if rv.CanInterface() {
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			if rv.Kind() != reflect.Pointer || !rv.IsNil() {
				return s.String()
			}
		}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}

		return redactValue(rv.Elem())
	case reflect.Struct:
		return redactStruct(rv)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = redactValue(rv.Index(i))
		}

		return items
	case reflect.Map:
		out := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = redactValue(iter.Value())
		}

		return out
	default:
		return rv.Interface()
	}
}

// maskURL hides the password of a URL. Unparseable input is replaced
// wholesale since it may still carry credentials.
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}

	return u.Redacted()
}
