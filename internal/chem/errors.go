package chem

import (
	"errors"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// InvalidConfigError marks a retrieval config missing a required key or
// carrying an unusable value.
type InvalidConfigError struct {
	TypeName string
	Method   string
	Reason   string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("INVALID_CONFIG: %s via %s: %s", e.TypeName, e.Method, e.Reason)
}

// UnsupportedMethodError marks a retrieval method the data type does not
// implement.
type UnsupportedMethodError struct {
	TypeName string
	Method   string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("UNSUPPORTED_METHOD: %s does not support %q", e.TypeName, e.Method)
}

// TypeMismatchError marks a value whose Go type does not match the data
// type's native representation.
type TypeMismatchError struct {
	TypeName string
	Want     model.NativeType
	Got      any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("TYPE_MISMATCH: %s expects %s, got %T", e.TypeName, e.Want, e.Got)
}

// ImmutableError marks a write against a frozen record.
type ImmutableError struct {
	TypeName string
	RecordID string
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("IMMUTABLE: %s record %s is frozen", e.TypeName, e.RecordID)
}

// UnknownTypeError marks a type name absent from the registry.
type UnknownTypeError struct {
	TypeName string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("UNKNOWN_TYPE: %q is not registered", e.TypeName)
}

func IsInvalidConfig(err error) bool {
	var e *InvalidConfigError
	return errors.As(err, &e)
}

func IsUnsupportedMethod(err error) bool {
	var e *UnsupportedMethodError
	return errors.As(err, &e)
}

func IsTypeMismatch(err error) bool {
	var e *TypeMismatchError
	return errors.As(err, &e)
}

func IsImmutable(err error) bool {
	var e *ImmutableError
	return errors.As(err, &e)
}

func IsUnknownType(err error) bool {
	var e *UnknownTypeError
	return errors.As(err, &e)
}
