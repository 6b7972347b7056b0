package contracts

// Status is the terminal outcome of a governed interaction.
type Status string

const (
	StatusPass   Status = "PASS"
	StatusWarn   Status = "WARN"
	StatusRefuse Status = "REFUSE"
	StatusError  Status = "ERROR"
)

// GateAction orders the scope-gate / arbitration verdicts. Upgrades
// compose monotonically: PASS < REWRITE < REFUSE.
type GateAction string

const (
	ActionPass    GateAction = "PASS"
	ActionRewrite GateAction = "REWRITE"
	ActionRefuse  GateAction = "REFUSE"
)

func (a GateAction) rank() int {
	switch a {
	case ActionRefuse:
		return 2
	case ActionRewrite:
		return 1
	default:
		return 0
	}
}

// Upgrade returns the stricter of the two actions.
func (a GateAction) Upgrade(b GateAction) GateAction {
	if b.rank() > a.rank() {
		return b
	}
	return a
}
