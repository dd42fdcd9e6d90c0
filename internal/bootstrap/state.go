package bootstrap

// State is the bootstrap state derived from the persisted flags and the
// scheduler.
type State int

const (
	NotLaunched State = iota
	LaunchPending
	LaunchedUnexecuted
	Executed
)

func (s State) String() string {
	switch s {
	case NotLaunched:
		return "not_launched"
	case LaunchPending:
		return "launch_pending"
	case LaunchedUnexecuted:
		return "launched_unexecuted"
	case Executed:
		return "executed"
	}
	return "unknown"
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the result of one Execute call.
type Outcome int

const (
	// OutcomeExecuted means this call ran the activation sequence.
	OutcomeExecuted Outcome = iota + 1
	// OutcomeAlreadyExecuted means the executed flag was already set.
	OutcomeAlreadyExecuted
	// OutcomeClaimLost means another caller holds the execution claim.
	OutcomeClaimLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeAlreadyExecuted:
		return "already_executed"
	case OutcomeClaimLost:
		return "claim_lost"
	}
	return "failed"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
