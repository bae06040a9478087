package provider

import (
	"context"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// UserInputMolecules is a molecule-set provider fed entirely from request
// parameters: params["molecules"] is a list of objects with smiles, inchi,
// inchikey, and optional common_name.
type UserInputMolecules struct{}

func (UserInputMolecules) Name() string    { return "user-input" }
func (UserInputMolecules) Version() string { return "1.0" }

func (UserInputMolecules) FetchMolecules(ctx context.Context, params model.JSONMap) ([]model.Molecule, error) {
	raw, ok := params["molecules"]
	if !ok {
		return nil, fmt.Errorf(`user-input molecules: missing required key "molecules"`)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf(`user-input molecules: "molecules" must be a list, got %T`, raw)
	}

	molecules := make([]model.Molecule, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("user-input molecules: entry %d must be an object, got %T", i, item)
		}
		m := model.Molecule{
			SMILES:     stringField(obj, "smiles"),
			InChI:      stringField(obj, "inchi"),
			InChIKey:   stringField(obj, "inchikey"),
			CommonName: stringField(obj, "common_name"),
		}
		if m.SMILES == "" || m.InChI == "" || m.InChIKey == "" {
			return nil, fmt.Errorf("user-input molecules: entry %d missing smiles, inchi, or inchikey", i)
		}
		molecules = append(molecules, m)
	}
	return molecules, nil
}

// UserInputProperties is a property-set provider fed from request
// parameters: params["values"] maps registered type names to values.
type UserInputProperties struct{}

func (UserInputProperties) Name() string         { return "user-input" }
func (UserInputProperties) Version() string      { return "1.0" }
func (UserInputProperties) Source() model.Source { return model.SourceUser }

func (UserInputProperties) FetchProperties(ctx context.Context, mol *model.Molecule, params model.JSONMap) (map[string]any, error) {
	raw, ok := params["values"]
	if !ok {
		return nil, fmt.Errorf(`user-input properties: missing required key "values"`)
	}
	values, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(`user-input properties: "values" must be an object, got %T`, raw)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf(`user-input properties: "values" is empty`)
	}
	return values, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
