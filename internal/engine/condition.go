package engine

import "strings"

// evaluateCondition is the engine's total condition evaluator: the literal
// strings "true" and "false" return themselves; any other condition passes
// iff the gathered inputs are non-empty. It never errors on malformed input;
// evaluation problems surface inside the output, not as a step failure.
func evaluateCondition(condition string, inputs map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"condition": condition}

	switch strings.TrimSpace(strings.ToLower(condition)) {
	case "true":
		out["passed"] = true
	case "false":
		out["passed"] = false
	case "":
		out["passed"] = false
		out["error"] = "empty condition"
	default:
		out["passed"] = len(inputs) > 0
	}
	return out
}
