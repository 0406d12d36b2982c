package plan

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Key computes the idempotency key for a step execution: the SHA-256 of the
// canonical JSON serialization of the action and the fully resolved
// parameters (sorted keys, no whitespace). Two executions with the same key
// are interchangeable.
func Key(action Action, params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	payload := struct {
		Action Action            `json:"action"`
		Params map[string]string `json:"params"`
	}{Action: action, Params: params}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum)
}
