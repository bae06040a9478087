package chem

import (
	"fmt"
	"strconv"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// Built-in QSAR property types. LogP is a float; the toxicological
// properties are free-form strings (assay outcomes, categorical labels).
// All four retrieve via user input only; provider-backed methods register
// their own types.

// LogPData carries the octanol-water partition coefficient.
type LogPData struct{}

func (LogPData) Name() string                 { return "LogPData" }
func (LogPData) PropertyName() string         { return "logp" }
func (LogPData) NativeType() model.NativeType { return model.NativeFloat }
func (LogPData) RetrievalMethods() []string   { return []string{MethodUserInput} }

func (LogPData) CheckValue(v any) error {
	if _, ok := toFloat(v); !ok {
		return &TypeMismatchError{TypeName: "LogPData", Want: model.NativeFloat, Got: v}
	}
	return nil
}

func (LogPData) Serialize(v any) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", &TypeMismatchError{TypeName: "LogPData", Want: model.NativeFloat, Got: v}
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (LogPData) Deserialize(payload string) (any, error) {
	f, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return nil, fmt.Errorf("parse logp payload %q: %w", payload, err)
	}
	return f, nil
}

// toFloat accepts float64 plus the integer types JSON decoding and user
// config commonly produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func checkString(typeName string, v any) error {
	if _, ok := v.(string); !ok {
		return &TypeMismatchError{TypeName: typeName, Want: model.NativeString, Got: v}
	}
	return nil
}

func serializeString(typeName string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &TypeMismatchError{TypeName: typeName, Want: model.NativeString, Got: v}
	}
	return s, nil
}

// ToxicityData carries a toxicity assessment label.
type ToxicityData struct{}

func (ToxicityData) Name() string                      { return "ToxicityData" }
func (ToxicityData) PropertyName() string              { return "toxicity" }
func (ToxicityData) NativeType() model.NativeType      { return model.NativeString }
func (ToxicityData) RetrievalMethods() []string        { return []string{MethodUserInput} }
func (ToxicityData) CheckValue(v any) error            { return checkString("ToxicityData", v) }
func (ToxicityData) Serialize(v any) (string, error)   { return serializeString("ToxicityData", v) }
func (ToxicityData) Deserialize(p string) (any, error) { return p, nil }

// AbsorptionData carries an absorption assessment label.
type AbsorptionData struct{}

func (AbsorptionData) Name() string                      { return "AbsorptionData" }
func (AbsorptionData) PropertyName() string              { return "absorption" }
func (AbsorptionData) NativeType() model.NativeType      { return model.NativeString }
func (AbsorptionData) RetrievalMethods() []string        { return []string{MethodUserInput} }
func (AbsorptionData) CheckValue(v any) error            { return checkString("AbsorptionData", v) }
func (AbsorptionData) Serialize(v any) (string, error)   { return serializeString("AbsorptionData", v) }
func (AbsorptionData) Deserialize(p string) (any, error) { return p, nil }

// MutagenicityData carries a mutagenicity assessment label.
type MutagenicityData struct{}

func (MutagenicityData) Name() string                      { return "MutagenicityData" }
func (MutagenicityData) PropertyName() string              { return "mutagenicity" }
func (MutagenicityData) NativeType() model.NativeType      { return model.NativeString }
func (MutagenicityData) RetrievalMethods() []string        { return []string{MethodUserInput} }
func (MutagenicityData) CheckValue(v any) error            { return checkString("MutagenicityData", v) }
func (MutagenicityData) Serialize(v any) (string, error)   { return serializeString("MutagenicityData", v) }
func (MutagenicityData) Deserialize(p string) (any, error) { return p, nil }
