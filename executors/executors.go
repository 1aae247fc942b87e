// Package executors provides the built-in step executors: print, set,
// script, sleep, time, http, json, and fail.
package executors

import (
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/conductor"
)

// Defaults returns one of each built-in executor.
func Defaults() []conductor.StepExecutor {
	return []conductor.StepExecutor{
		NewPrintExecutor(),
		NewSetExecutor(),
		NewScriptExecutor(),
		NewSleepExecutor(),
		NewTimeExecutor(),
		NewHTTPExecutor(),
		NewJSONExecutor(),
		NewFailExecutor(),
	}
}

// decodeParams converts a resolved parameter map into a typed params struct
// via a JSON round trip.
func decodeParams(params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}
