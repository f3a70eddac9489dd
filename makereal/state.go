package makereal

// State is a step of one make-real invocation.
type State int

const (
	Idle State = iota
	Validating
	Capturing
	Prompting
	Requesting
	Parsing
	Committed
	Failed
)

func (s State) String() string {
	names := []string{
		"idle",
		"validating",
		"capturing",
		"prompting",
		"requesting",
		"parsing",
		"committed",
		"failed",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}
