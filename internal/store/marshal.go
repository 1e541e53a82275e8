package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
)

// marshalSchema stores a meta schema as canonical JSON so identical
// functions produce identical rows.
func marshalSchema(schema []kernel.MetaField) (string, error) {
	fields := make([]any, len(schema))
	for i, f := range schema {
		fields[i] = map[string]any{"name": f.Name, "offset": f.Offset, "len": f.Len}
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(data), nil
}

func unmarshalSchema(data string) ([]kernel.MetaField, error) {
	var schema []kernel.MetaField
	if err := json.Unmarshal([]byte(data), &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return schema, nil
}

func marshalActivations(acts []ir.Kind) (string, error) {
	names := make([]string, len(acts))
	for i, a := range acts {
		names[i] = string(a)
	}
	data, err := ir.MarshalCanonical(names)
	if err != nil {
		return "", fmt.Errorf("marshal activations: %w", err)
	}
	return string(data), nil
}

func unmarshalActivations(data string) ([]ir.Kind, error) {
	var acts []ir.Kind
	if err := json.Unmarshal([]byte(data), &acts); err != nil {
		return nil, fmt.Errorf("unmarshal activations: %w", err)
	}
	if len(acts) == 0 {
		return nil, nil
	}
	return acts, nil
}
