package rules

import (
	"encoding/json"
	"fmt"

	"confhub/internal/store"
)

type LabelAction string

const (
	LabelActionAdd    LabelAction = "ADD"
	LabelActionRemove LabelAction = "REMOVE"
)

type LabelOperation struct {
	Action LabelAction `json:"action"`
	Key    string      `json:"key"`
	Value  string      `json:"value,omitempty"`
}

// Rule is the payload of a label-application-rule config object.
type Rule struct {
	ID              string           `json:"id"`
	Priority        int              `json:"priority"`
	Enabled         bool             `json:"enabled"`
	Condition       Condition        `json:"condition"`
	LabelOperations []LabelOperation `json:"labelOperations"`
}

// FromConfigObject decodes a stored config object into a rule. The rule
// id is the config object id, not part of the payload.
func FromConfigObject(obj *store.ConfigObject) (*Rule, error) {
	raw, err := json.Marshal(obj.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule payload: %w", err)
	}

	var rule Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("failed to decode rule payload: %w", err)
	}

	rule.ID = obj.ID
	return &rule, nil
}
