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

// Package telemetry parses the periodic key:value state lines emitted by the
// vehicle firmware and caches the latest snapshot per device.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/carverauto/flightdeck/pkg/logger"
)

// Kind discriminates the value type a telemetry field was coerced to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

// Fields coerced to int. Everything not listed here or in floatFields stays a
// raw string (mpry among them, it is a comma-joined triple).
var intFields = map[string]struct{}{
	"mid": {}, "x": {}, "y": {}, "z": {},
	"pitch": {}, "roll": {}, "yaw": {},
	"vgx": {}, "vgy": {}, "vgz": {},
	"templ": {}, "temph": {},
	"tof": {}, "h": {}, "bat": {}, "time": {},
}

// Fields coerced to float64.
var floatFields = map[string]struct{}{
	"baro": {}, "agx": {}, "agy": {}, "agz": {},
}

// Value is one telemetry field, coerced per the field tables.
type Value struct {
	kind Kind
	i    int
	f    float64
	s    string
}

func IntValue(v int) Value        { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value  { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value  { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Int() int       { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }

// Snapshot is one complete state report. Snapshots are value-replaced, never
// merged; treat them as immutable once parsed.
type Snapshot map[string]Value

// Parse converts a raw state line into a Snapshot. The literal "ok" yields an
// empty snapshot. Fields without a colon are skipped; fields that fail numeric
// coercion are logged at debug and dropped, the rest of the line still parses.
func Parse(line string, log logger.Logger) Snapshot {
	line = strings.TrimSpace(line)

	if line == "ok" {
		return Snapshot{}
	}

	snap := make(Snapshot)

	for _, field := range strings.Split(line, ";") {
		key, raw, found := strings.Cut(field, ":")
		if !found {
			continue
		}

		if _, isInt := intFields[key]; isInt {
			n, err := strconv.Atoi(raw)
			if err != nil {
				if log != nil {
					log.Debug().Str("key", key).Str("value", raw).Err(err).Msg("Dropping unparseable state field")
				}

				continue
			}

			snap[key] = IntValue(n)

			continue
		}

		if _, isFloat := floatFields[key]; isFloat {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				if log != nil {
					log.Debug().Str("key", key).Str("value", raw).Err(err).Msg("Dropping unparseable state field")
				}

				continue
			}

			snap[key] = FloatValue(f)

			continue
		}

		snap[key] = StringValue(raw)
	}

	return snap
}

// Int returns the named field as an int.
func (s Snapshot) Int(key string) (int, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFieldMissing, key)
	}

	if v.kind != KindInt {
		return 0, fmt.Errorf("%w: %s", ErrFieldType, key)
	}

	return v.i, nil
}

// Float returns the named field as a float64.
func (s Snapshot) Float(key string) (float64, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFieldMissing, key)
	}

	if v.kind != KindFloat {
		return 0, fmt.Errorf("%w: %s", ErrFieldType, key)
	}

	return v.f, nil
}

// Str returns the named field as its raw string form.
func (s Snapshot) Str(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFieldMissing, key)
	}

	if v.kind != KindString {
		return "", fmt.Errorf("%w: %s", ErrFieldType, key)
	}

	return v.s, nil
}
