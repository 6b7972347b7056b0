package contracts

// Route is the deterministic routing verdict for a governed turn.
type Route string

const (
	RouteBound    Route = "BOUND"    // safety refusal
	RouteReflect  Route = "REFLECT"  // complexity confirmation gate
	RouteScaffold Route = "SCAFFOLD" // plan approval gate
	RouteDefer    Route = "DEFER"    // high-stakes without readiness
	RouteTDM      Route = "TDM"      // normal generation path
)

// ARU tags the kind of turn (Atomic Requested Unit).
type ARU string

const (
	ARUAnswer    ARU = "ANSWER"
	ARUVerify    ARU = "VERIFY"
	ARURefuse    ARU = "REFUSE"
	ARUConsensus ARU = "CONSENSUS"
)

// Domain classifies the subject matter of an input.
type Domain string

const (
	DomainGeneral    Domain = "GENERAL"
	DomainTechnical  Domain = "TECHNICAL"
	DomainHighStakes Domain = "HIGH_STAKES"
)

// Profile is the session assurance level. It controls gate token length,
// gate expiry, token binding, retry budgets and alignment thresholds.
type Profile string

const (
	ProfileFast          Profile = "A_FAST"
	ProfileStandard      Profile = "A_STANDARD"
	ProfileHighAssurance Profile = "A_HIGH_ASSURANCE"
)

// Escalate returns the next profile up the assurance ladder.
func (p Profile) Escalate() Profile {
	switch p {
	case ProfileFast:
		return ProfileStandard
	default:
		return ProfileHighAssurance
	}
}

// Deescalate returns the next profile down the assurance ladder.
func (p Profile) Deescalate() Profile {
	switch p {
	case ProfileHighAssurance:
		return ProfileStandard
	default:
		return ProfileFast
	}
}

// SafetyVerdict is the two-stage screen result captured in the input vector.
type SafetyVerdict struct {
	Stage1OK    bool     `json:"stage1_ok"`
	Stage2OK    bool     `json:"stage2_ok"`
	Stage2Score float64  `json:"stage2_score"`
	Reasons     []string `json:"reasons,omitempty"`
}

// InputVector is everything routing is allowed to see about one input.
// Routing must be a pure function of (InputVector, session state).
type InputVector struct {
	Text             string        `json:"text"`
	TextHash         string        `json:"text_hash"`
	Safe             bool          `json:"safe"`
	Safety           SafetyVerdict `json:"safety"`
	Domain           Domain        `json:"domain"`
	Complexity       int           `json:"complexity"`
	RequiresReflect  bool          `json:"requires_reflect"`
	RequiresScaffold bool          `json:"requires_scaffold"`
}
