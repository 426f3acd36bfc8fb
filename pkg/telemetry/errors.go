package telemetry

import "errors"

var (
	ErrFieldMissing = errors.New("telemetry field not present")
	ErrFieldType    = errors.New("telemetry field has a different type")
)
