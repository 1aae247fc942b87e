package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/conductor"
)

// JSONParams defines the parameters for the JSON executor
type JSONParams struct {
	Operation string `json:"operation"` // parse, stringify, query, validate
	Data      string `json:"data"`      // JSON string to work with
	Query     string `json:"query"`     // dot-notation query
}

// JSONExecutor works with JSON data
type JSONExecutor struct{}

func NewJSONExecutor() *JSONExecutor {
	return &JSONExecutor{}
}

func (e *JSONExecutor) Type() string {
	return "json"
}

func (e *JSONExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	var params JSONParams
	if err := decodeParams(req.Parameters, &params); err != nil {
		return nil, err
	}
	if params.Operation == "" {
		params.Operation = "parse"
	}
	switch strings.ToLower(params.Operation) {
	case "parse":
		var result any
		if err := json.Unmarshal([]byte(params.Data), &result); err != nil {
			return nil, err
		}
		return &conductor.StepResult{Output: result}, nil

	case "stringify":
		// First parse the data to validate it's JSON
		var parsed any
		if err := json.Unmarshal([]byte(params.Data), &parsed); err != nil {
			return nil, err
		}
		formatted, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return nil, err
		}
		return &conductor.StepResult{Output: string(formatted)}, nil

	case "query":
		if params.Query == "" {
			return nil, fmt.Errorf("query cannot be empty for query operation")
		}
		var parsed any
		if err := json.Unmarshal([]byte(params.Data), &parsed); err != nil {
			return nil, err
		}
		result, err := queryJSON(parsed, params.Query)
		if err != nil {
			return nil, err
		}
		return &conductor.StepResult{Output: result}, nil

	case "validate":
		var parsed any
		valid := json.Unmarshal([]byte(params.Data), &parsed) == nil
		return &conductor.StepResult{Output: valid}, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", params.Operation)
	}
}

// queryJSON performs a simple JSON query using dot notation
func queryJSON(data any, query string) (any, error) {
	if query == "" || query == "." {
		return data, nil
	}

	query = strings.TrimPrefix(query, ".")
	parts := strings.Split(query, ".")

	current := data
	for _, part := range parts {
		if part == "" {
			continue
		}

		switch v := current.(type) {
		case map[string]any:
			if val, exists := v[part]; exists {
				current = val
			} else {
				return nil, fmt.Errorf("key '%s' not found", part)
			}
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil {
				return nil, fmt.Errorf("invalid array index '%s'", part)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index %d out of bounds", idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot query into non-object/non-array type")
		}
	}

	return current, nil
}
