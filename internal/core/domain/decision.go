package domain

import "strings"

// Decision is the outcome of the response gate for one candidate.
type Decision string

const (
	DecisionRespond Decision = "RESPOND"
	DecisionIgnore  Decision = "IGNORE"
	DecisionStop    Decision = "STOP"
)

// ParseDecision normalizes a classifier label. Anything unrecognized is IGNORE.
// Labels may arrive bracketed ("[RESPOND]") or with surrounding prose.
func ParseDecision(label string) Decision {
	upper := strings.ToUpper(label)
	s := strings.Trim(upper, "[]\"'`. \n\t")
	switch Decision(s) {
	case DecisionRespond, DecisionIgnore, DecisionStop:
		return Decision(s)
	}
	for _, d := range []Decision{DecisionRespond, DecisionIgnore, DecisionStop} {
		if strings.Contains(upper, "["+string(d)+"]") {
			return d
		}
	}
	return DecisionIgnore
}

// Reply action labels.
const (
	ActionNone          = "NONE"
	ActionContinue      = "CONTINUE"
	ActionGenerateImage = "GENERATE_IMAGE"
)

// NormalizeAction maps a generated action label onto a known action.
func NormalizeAction(action string) string {
	switch a := strings.ToUpper(strings.TrimSpace(action)); a {
	case ActionGenerateImage, ActionContinue:
		return a
	default:
		return ActionNone
	}
}
