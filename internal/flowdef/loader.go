// Package flowdef loads declarative flow definitions from CUE files. A
// definition names the flow and its ordered steps with their data
// requirements; Bind turns it into runnable steps.
package flowdef

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
)

// FlowDef is one declarative flow: an id, a display name, and ordered steps.
type FlowDef struct {
	FlowID string    `json:"flow_id"`
	Name   string    `json:"name"`
	Steps  []StepDef `json:"steps"`
}

// StepDef declares one step of a flow.
type StepDef struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Order             int      `json:"order"`
	RequiredDataTypes []string `json:"required_data_types"`
	InputProperties   []string `json:"input_properties"`
}

// LoadError reports a definition that failed to load or validate.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeNotFound    = "E005"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeBuildFailed = "E006"
	ErrCodeInvalidFlow = "E101"
)

// LoadDir loads every flow defined under the `flow` field of the CUE
// package in dir. Steps are returned sorted by order.
func LoadDir(dir string) ([]FlowDef, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("flow directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing flow directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	flowsVal := value.LookupPath(cue.ParsePath("flow"))
	if !flowsVal.Exists() {
		return nil, &LoadError{Code: ErrCodeInvalidFlow, Message: "no flow definitions found"}
	}

	iter, err := flowsVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating flows: %v", err)}
	}

	flows := []FlowDef{}
	for iter.Next() {
		var def FlowDef
		if err := iter.Value().Decode(&def); err != nil {
			return nil, &LoadError{Code: ErrCodeInvalidFlow,
				Message: fmt.Sprintf("flow.%s: %v", iter.Label(), err)}
		}
		if def.FlowID == "" {
			def.FlowID = iter.Label()
		}
		sort.SliceStable(def.Steps, func(i, j int) bool { return def.Steps[i].Order < def.Steps[j].Order })
		if err := validate(&def); err != nil {
			return nil, err
		}
		flows = append(flows, def)
	}
	if len(flows) == 0 {
		return nil, &LoadError{Code: ErrCodeInvalidFlow, Message: "no flow definitions found"}
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].FlowID < flows[j].FlowID })
	return flows, nil
}

func validate(def *FlowDef) error {
	if len(def.Steps) == 0 {
		return &LoadError{Code: ErrCodeInvalidFlow, Message: fmt.Sprintf("flow %s has no steps", def.FlowID)}
	}
	seenIDs := map[string]bool{}
	seenOrders := map[int]bool{}
	for _, s := range def.Steps {
		if s.ID == "" {
			return &LoadError{Code: ErrCodeInvalidFlow, Message: fmt.Sprintf("flow %s: step with empty id", def.FlowID)}
		}
		if seenIDs[s.ID] {
			return &LoadError{Code: ErrCodeInvalidFlow, Message: fmt.Sprintf("flow %s: duplicate step id %q", def.FlowID, s.ID)}
		}
		if s.Order < 0 {
			return &LoadError{Code: ErrCodeInvalidFlow, Message: fmt.Sprintf("flow %s: step %s has negative order", def.FlowID, s.ID)}
		}
		if seenOrders[s.Order] {
			return &LoadError{Code: ErrCodeInvalidFlow, Message: fmt.Sprintf("flow %s: duplicate step order %d", def.FlowID, s.Order)}
		}
		seenIDs[s.ID] = true
		seenOrders[s.Order] = true
	}
	return nil
}

// CheckTypes verifies every required data type in the definition resolves
// in the registry.
func CheckTypes(def *FlowDef, reg *chem.Registry) error {
	for _, s := range def.Steps {
		for _, typeName := range s.RequiredDataTypes {
			if _, err := reg.Resolve(typeName); err != nil {
				return &LoadError{Code: ErrCodeInvalidFlow,
					Message: fmt.Sprintf("flow %s: step %s requires unregistered type %q", def.FlowID, s.ID, typeName)}
			}
		}
	}
	return nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
