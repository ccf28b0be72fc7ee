package rules

import (
	"sort"
)

// Evaluate runs every enabled rule against the attributes and folds the
// label operations of all matching rules, lowest priority number first,
// ties broken by rule id. Within that total order the last operation on
// a label key wins.
func Evaluate(rules []*Rule, attributes map[string]interface{}) (map[string]string, error) {
	ordered := make([]*Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	labels := make(map[string]string)

	for _, rule := range ordered {
		if !rule.Enabled {
			continue
		}

		matched, err := rule.Condition.Matches(attributes)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		for _, op := range rule.LabelOperations {
			switch op.Action {
			case LabelActionAdd:
				labels[op.Key] = op.Value
			case LabelActionRemove:
				delete(labels, op.Key)
			}
		}
	}

	return labels, nil
}
