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

// Package models holds the wire types exchanged with the control plane and
// the facility configuration shared by the edgeprobe binaries.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	nullToken      = []byte("null")
	errInvalidFlag = errors.New("flag must be a boolean, number or boolean string")
)

// Token is a raw JSON value echoed back to the control plane exactly as it
// was received. An empty Token marshals as null.
type Token json.RawMessage

// StringToken returns a Token holding s as a JSON string.
func StringToken(s string) Token {
	b, _ := json.Marshal(s)

	return Token(b)
}

func (t Token) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return nullToken, nil
	}

	return t, nil
}

func (t *Token) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullToken) {
		*t = nil

		return nil
	}

	*t = append((*t)[:0], data...)

	return nil
}

// IsZero reports whether the token is absent or null.
func (t Token) IsZero() bool {
	return len(t) == 0 || bytes.Equal(t, nullToken)
}

// String renders the token for logs. JSON strings are unquoted.
func (t Token) String() string {
	if t.IsZero() {
		return ""
	}

	var s string
	if err := json.Unmarshal(t, &s); err == nil {
		return s
	}

	return string(t)
}

// Flag is a boolean that also accepts "true"/"false" strings and numbers,
// as some schedulers send them.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullToken) {
		*f = false

		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case bool:
		*f = Flag(value)
	case float64:
		*f = value != 0
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			*f = false

			return nil
		}

		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %q", errInvalidFlag, value)
		}

		*f = Flag(b)
	default:
		return errInvalidFlag
	}

	return nil
}

// CommandRef holds the correlation fields of a command. It decodes from any
// JSON object, so a Result can still be reported for a command whose other
// fields are unusable.
type CommandRef struct {
	CommandID   Token `json:"commandId"`
	CameraID    Token `json:"cameraId"`
	IsScheduled Token `json:"isScheduled"`
	SchedulerID Token `json:"schedulerId"`
}

// Command returns a Command carrying only the correlation fields. An
// unreadable isScheduled value counts as false.
func (r *CommandRef) Command() *Command {
	var scheduled Flag
	if !r.IsScheduled.IsZero() && scheduled.UnmarshalJSON(r.IsScheduled) != nil {
		scheduled = false
	}

	return &Command{
		CommandID:   r.CommandID,
		CameraID:    r.CameraID,
		IsScheduled: scheduled,
		SchedulerID: r.SchedulerID,
	}
}
