package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

const (
	outputsFileName = "outputs.json"
	failedFileName  = "failed"
)

// persistedValue is the serialized form of one output port value, carrying
// the cty type alongside the value so replay restores it exactly.
type persistedValue struct {
	Type  json.RawMessage `json:"type"`
	Value json.RawMessage `json:"value"`
}

// saveOutputs writes a stage's produced port values into its work directory
// so a later process can pick them up.
func saveOutputs(workdir string, outputs map[string]cty.Value) error {
	persisted := make(map[string]persistedValue, len(outputs))
	for port, value := range outputs {
		ty, err := ctyjson.MarshalType(value.Type())
		if err != nil {
			return fmt.Errorf("failed to persist type of output %s: %w", port, err)
		}
		raw, err := ctyjson.Marshal(value, value.Type())
		if err != nil {
			return fmt.Errorf("failed to persist output %s: %w", port, err)
		}
		persisted[port] = persistedValue{Type: ty, Value: raw}
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workdir, outputsFileName), data, 0o644)
}

// loadOutputs reads a stage's persisted port values back from its work
// directory.
func loadOutputs(workdir string) (map[string]cty.Value, error) {
	data, err := os.ReadFile(filepath.Join(workdir, outputsFileName))
	if err != nil {
		return nil, err
	}

	var persisted map[string]persistedValue
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("corrupt outputs file in %s: %w", workdir, err)
	}

	outputs := make(map[string]cty.Value, len(persisted))
	for port, pv := range persisted {
		ty, err := ctyjson.UnmarshalType(pv.Type)
		if err != nil {
			return nil, fmt.Errorf("corrupt type of output %s in %s: %w", port, workdir, err)
		}
		value, err := ctyjson.Unmarshal(pv.Value, ty)
		if err != nil {
			return nil, fmt.Errorf("corrupt value of output %s in %s: %w", port, workdir, err)
		}
		outputs[port] = value
	}
	return outputs, nil
}

// writeFailedMarker records a stage failure in its work directory, where a
// polling queue can observe it.
func writeFailedMarker(workdir string, cause error) {
	_ = os.MkdirAll(workdir, 0o755)
	_ = os.WriteFile(filepath.Join(workdir, failedFileName), []byte(cause.Error()+"\n"), 0o644)
}

// hasOutputs reports whether a stage's work directory holds persisted
// outputs.
func hasOutputs(workdir string) bool {
	_, err := os.Stat(filepath.Join(workdir, outputsFileName))
	return err == nil
}

// hasFailed reports whether a stage's work directory holds a failure marker.
func hasFailed(workdir string) bool {
	_, err := os.Stat(filepath.Join(workdir, failedFileName))
	return err == nil
}
