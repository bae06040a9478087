package flowdef

import (
	"context"

	"github.com/chem-gl/cadma-flow-api/internal/flow"
	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// defStep adapts one StepDef into a runnable flow.Step. Its Process
// materializes the declared data: for every molecule in the frozen
// snapshot, each required data type gets a record, retrieved through the
// family's frozen retrieval method when none exists yet. Computation-bearing
// steps register their own flow.Step implementations instead.
type defStep struct {
	def StepDef
}

func (s *defStep) ID() string                  { return s.def.ID }
func (s *defStep) Name() string                { return s.def.Name }
func (s *defStep) Order() int                  { return s.def.Order }
func (s *defStep) RequiredDataTypes() []string { return s.def.RequiredDataTypes }
func (s *defStep) InputProperties() []string   { return s.def.InputProperties }

func (s *defStep) Process(ctx context.Context, in *flow.Input) (model.JSONMap, error) {
	ensured := 0
	for familyID, members := range in.Step.InputDataSnapshot {
		methods := make(map[string]string, len(s.def.RequiredDataTypes))
		for _, typeName := range s.def.RequiredDataTypes {
			methods[typeName] = in.Step.DataRetrievalMethods[familyID][typeName]
		}
		for _, ref := range members {
			records, err := in.Data.EnsureAll(ctx, ref.ID, methods, nil, "")
			if err != nil {
				return nil, err
			}
			ensured += len(records)
		}
	}
	return model.JSONMap{"records_ensured": ensured}, nil
}

// Bind turns a loaded definition into runnable steps, preserving order.
func Bind(def *FlowDef) []flow.Step {
	steps := make([]flow.Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		steps = append(steps, &defStep{def: sd})
	}
	return steps
}
