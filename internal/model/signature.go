package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Domain prefix for step input signatures. Version suffix enables future
// algorithm migration without invalidating stored hashes.
const DomainStepInput = "cadmaflow/step-input/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StepInputSignature computes the content hash stored on a StepExecution:
// a digest over the frozen composition snapshot, the retrieval method map,
// and the provider executions consulted. Two steps with the same signature
// saw identical inputs.
func StepInputSignature(snapshot FamilySnapshot, methods FamilyDataConfig, providers []int64) (string, error) {
	obj := map[string]any{
		"snapshot":  snapshot,
		"methods":   methods,
		"providers": providers,
	}
	data, err := MarshalDeterministic(obj)
	if err != nil {
		return "", fmt.Errorf("step input signature: %w", err)
	}
	return hashWithDomain(DomainStepInput, data), nil
}

// MarshalDeterministic serializes v to JSON with sorted object keys and no
// HTML escaping. Go's encoding/json sorts map keys alphabetically, which is
// sufficient for the ASCII identifiers used in snapshots and configs.
func MarshalDeterministic(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder appends a trailing newline; strip it so the bytes are stable
	// for hashing and storage.
	return []byte(strings.TrimSuffix(buf.String(), "\n")), nil
}
