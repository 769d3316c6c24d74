package scoring

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kalambet/strokeinsight/internal/dataset"
)

// Response is the document the scoring process writes to stdout.
type Response struct {
	Success        bool                `json:"success"`
	Predictions    []string            `json:"predictions"`
	Results        []map[string]any    `json:"results,omitempty"`
	Error          string              `json:"error,omitempty"`
	ErrorCode      string              `json:"errorCode,omitempty"`
	MissingColumns []string            `json:"missingColumns,omitempty"`
	DataTypeIssues []dataset.TypeIssue `json:"dataTypeIssues,omitempty"`
}

//go:embed response.schema.json
var responseSchemaJSON []byte

const responseSchemaName = "prediction-response.schema.json"

var responseSchema = mustCompileSchema(responseSchemaJSON, responseSchemaName)

func mustCompileSchema(raw []byte, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// DecodeResponse parses stdout of the scoring process. The output must be a
// single JSON document that satisfies the response schema.
func DecodeResponse(out []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, errors.New("empty output")
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("unexpected document shape: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
