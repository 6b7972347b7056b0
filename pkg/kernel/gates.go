package kernel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/contracts"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

var (
	confirmYes = regexp.MustCompile(`(?i)\b(yes|yep|yeah|correct|confirmed|confirm|sounds good|that works)\b`)
	confirmNo  = regexp.MustCompile(`(?i)\b(no|nope|incorrect|not that|revise|change)\b`)

	approveYes = regexp.MustCompile(`(?i)\b(approve|approved|go ahead|proceed|greenlight|ok to proceed)\b`)
	approveNo  = regexp.MustCompile(`(?i)\b(reject|not approved|don't proceed|revise plan|change plan)\b`)

	confirmToken = regexp.MustCompile(`(?i)\bconfirm\s+([0-9a-f]{4,10})\b`)
	approveToken = regexp.MustCompile(`(?i)\bapprove\s+([0-9a-f]{4,10})\b`)

	stepRef = regexp.MustCompile(`(?i)\b(step|phase)\s*(\d+)\b`)

	tokenPrefix  = regexp.MustCompile(`(?i)^\s*(confirm|approve)\s+[0-9a-f]{4,10}\s*`)
	accessPrefix = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|approved|go ahead|proceed)\b[:,]?\s*`)
)

var revisionTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbut\b`),
	regexp.MustCompile(`(?i)\bexcept\b`),
	regexp.MustCompile(`(?i)\bhowever\b`),
	regexp.MustCompile(`(?i)\bchange\b`),
	regexp.MustCompile(`(?i)\brevise\b`),
	regexp.MustCompile(`(?i)\bmodify\b`),
	regexp.MustCompile(`(?i)\badjust\b`),
	regexp.MustCompile(`(?i)\binstead\b`),
	regexp.MustCompile(`(?i)\bswap\b`),
	regexp.MustCompile(`(?i)\breplace\b`),
	regexp.MustCompile(`(?i)\badd\b`),
	regexp.MustCompile(`(?i)\bremove\b`),
	regexp.MustCompile(`(?i)\bomit\b`),
	regexp.MustCompile(`(?i)\bstep\s*\d+\b`),
	regexp.MustCompile(`(?i)\bphase\s*\d+\b`),
}

func gateTimeout(p contracts.Profile) int {
	switch p {
	case contracts.ProfileFast:
		return 2
	case contracts.ProfileHighAssurance:
		return 5
	default:
		return 3
	}
}

func gateTokenLength(p contracts.Profile) int {
	if p == contracts.ProfileHighAssurance {
		return 6
	}
	return 4
}

func gateRequiresBinding(p contracts.Profile) bool {
	return p == contracts.ProfileHighAssurance
}

// MakeGateNonce derives the 10-hex single-use nonce binding a confirmation
// to session, interaction, gate kind, payload and session scope.
func MakeGateNonce(sessionID string, interaction int, gate, payloadHash, scope string) (string, error) {
	h, err := stablehash.Hash(map[string]any{
		"session_id":    sessionID,
		"interaction":   interaction,
		"gate":          gate,
		"payload_hash":  payloadHash,
		"session_scope": scope,
	})
	if err != nil {
		return "", err
	}
	return h[:10], nil
}

// HasRevisionIntent reports whether user text looks like a revision of the
// pending payload rather than an accept/reject.
func HasRevisionIntent(text string) bool {
	for _, p := range revisionTriggers {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ParseRevision extracts the optional step reference and the cleaned
// revision text from a revision message.
func ParseRevision(text string) (step *int, revisionText string) {
	if m := stepRef.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			step = &n
		}
	}
	cleaned := tokenPrefix.ReplaceAllString(text, "")
	cleaned = accessPrefix.ReplaceAllString(cleaned, "")
	return step, strings.TrimSpace(cleaned)
}

func extractToken(text string, gate PendingGate) string {
	pattern := confirmToken
	if gate == GateScaffoldApprove {
		pattern = approveToken
	}
	if m := pattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text))); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

type bindingStatus string

const (
	bindingBoundOK       bindingStatus = "bound_ok"
	bindingUnboundOK     bindingStatus = "unbound_ok"
	bindingRejected      bindingStatus = "rejected"
	bindingTokenMismatch bindingStatus = "token_mismatch"
	bindingMissingToken  bindingStatus = "missing_token"
	bindingUnknown       bindingStatus = "unknown"
)

// bindingDecision classifies a gate response. Token presence always wins
// over bare accept phrases; binding-required profiles never accept an
// unbound yes.
func bindingDecision(userText, expectedToken string, require bool, gate PendingGate) (bool, bindingStatus, string) {
	t := strings.ToLower(strings.TrimSpace(userText))
	reject, accept := confirmNo, confirmYes
	if gate == GateScaffoldApprove {
		reject, accept = approveNo, approveYes
	}

	if reject.MatchString(t) {
		return false, bindingRejected, ""
	}
	if provided := extractToken(userText, gate); provided != "" {
		if provided == expectedToken {
			return true, bindingBoundOK, provided
		}
		return false, bindingTokenMismatch, provided
	}
	if require {
		if accept.MatchString(t) {
			return false, bindingMissingToken, ""
		}
		return false, bindingUnknown, ""
	}
	if accept.MatchString(t) {
		return true, bindingUnboundOK, ""
	}
	return false, bindingUnknown, ""
}

// SetPendingGate freezes a payload behind a gate and derives its crypto
// material (hash, token, nonce) for the session's current profile.
func SetPendingGate(sess *Session, gate PendingGate, payload map[string]any) error {
	ph, err := stablehash.Hash(payload)
	if err != nil {
		return fmt.Errorf("kernel: hash gate payload: %w", err)
	}
	token := stablehash.Suffix(ph, gateTokenLength(sess.CurrentProfile))
	nonce, err := MakeGateNonce(sess.SessionID, sess.InteractionCount, string(gate), ph, sess.Scope())
	if err != nil {
		return err
	}
	cacheHash, err := stablehash.Hash(map[string]any{"gate": string(gate), "payload_hash": ph, "token": token})
	if err != nil {
		return err
	}

	pg := &sess.PendingGate
	pg.Gate = gate
	pg.CreatedAtInteraction = sess.InteractionCount
	pg.ExpiresAfterTurns = gateTimeout(sess.CurrentProfile)
	pg.Payload = payload
	pg.PayloadHash = ph
	pg.ConfirmToken = token
	pg.Nonce = nonce
	pg.RequireTokenBinding = gateRequiresBinding(sess.CurrentProfile)
	pg.PromptCacheHash = cacheHash
	if pg.ConsumedNonces == nil {
		pg.ConsumedNonces = map[string]bool{}
	}
	return nil
}

// refreshGateCrypto re-derives hash, token and nonce after an in-place
// payload revision. The consumed-nonce set survives the refresh.
func refreshGateCrypto(sess *Session) error {
	pg := &sess.PendingGate
	ph, err := stablehash.Hash(pg.Payload)
	if err != nil {
		return err
	}
	token := stablehash.Suffix(ph, gateTokenLength(sess.CurrentProfile))
	nonce, err := MakeGateNonce(sess.SessionID, sess.InteractionCount, string(pg.Gate), ph, sess.Scope())
	if err != nil {
		return err
	}
	cacheHash, err := stablehash.Hash(map[string]any{"gate": string(pg.Gate), "payload_hash": ph, "token": token})
	if err != nil {
		return err
	}
	pg.PayloadHash = ph
	pg.ConfirmToken = token
	pg.Nonce = nonce
	pg.CreatedAtInteraction = sess.InteractionCount
	pg.PromptCacheHash = cacheHash
	return nil
}

// ClearPendingGate resets gate state. reason "reset" also drops the
// reflect/scaffold confirmations.
func ClearPendingGate(sess *Session, reason string) {
	pg := &sess.PendingGate
	pg.Gate = GateNone
	pg.Payload = nil
	pg.PayloadHash = ""
	pg.ConfirmToken = ""
	pg.Nonce = ""
	pg.RequireTokenBinding = false
	pg.PromptCacheHash = ""
	if reason == "reset" {
		sess.ReflectConfirmed = false
		sess.ScaffoldApproved = false
		sess.WorkflowQueue = nil
	}
}

// RenderReflectPrompt renders the REFLECT confirmation prompt for the
// current gate state.
func RenderReflectPrompt(sess *Session, summary string) string {
	token := sess.PendingGate.ConfirmToken
	revText := "\n"
	if block := RenderRevisionBlock(sess.PendingGate.Payload); block != "" {
		revText = "\n\n" + block + "\n"
	}
	if sess.PendingGate.RequireTokenBinding {
		return "REFLECT (CONFIRMATION REQUIRED)\n" + summary + revText +
			"\nReply exactly: CONFIRM " + token + "\nOr: REVISE <what to change>\n"
	}
	return "REFLECT\n" + summary + revText +
		"\nOptional binding: CONFIRM " + token + "\nOr reply 'yes' to confirm, 'no' to revise.\n"
}

// RenderScaffoldPrompt renders the SCAFFOLD approval prompt.
func RenderScaffoldPrompt(sess *Session, plan string) string {
	token := sess.PendingGate.ConfirmToken
	revText := "\n"
	if block := RenderRevisionBlock(sess.PendingGate.Payload); block != "" {
		revText = "\n\n" + block + "\n"
	}
	if sess.PendingGate.RequireTokenBinding {
		return "SCAFFOLD (APPROVAL REQUIRED)\n" + plan + revText +
			"\nReply exactly: APPROVE " + token + "\nOr: REVISE <what to change>\n"
	}
	return "SCAFFOLD\n" + plan + revText +
		"\nOptional binding: APPROVE " + token + "\nOr reply 'approved' to proceed, 'no' to revise.\n"
}

// GateOutcome is the result of inspecting the pending gate for one turn.
type GateOutcome struct {
	Handled bool
	Reply   string
	Meta    map[string]any
}

// HandlePendingGate runs the gate protocol against the user's message.
// Handled=true means the turn ends here with Reply; Handled=false with an
// empty reply means the gate cleared (or none was active) and routing
// proceeds.
func HandlePendingGate(sess *Session, userText string) (GateOutcome, error) {
	pg := &sess.PendingGate
	if !pg.Active() {
		return GateOutcome{}, nil
	}

	if pg.Expired(sess.InteractionCount) {
		before := string(pg.Gate)
		budget := pg.ExpiresAfterTurns
		ClearPendingGate(sess, "reset")
		sess.Trace(before, string(GateNone), "pending_timeout", map[string]any{"expires_after_turns": budget})
		return GateOutcome{
			Handled: true,
			Reply:   "Timeout on pending gate. Let's start over—what is your goal and constraints?",
			Meta:    map[string]any{"timeout": true},
		}, nil
	}

	if HasRevisionIntent(userText) {
		step, revText := ParseRevision(userText)
		oldToken, oldHash, oldNonce := pg.ConfirmToken, pg.PayloadHash, pg.Nonce

		revised, err := AppendRevision(pg.Payload, step, revText)
		if err != nil {
			return GateOutcome{}, err
		}
		pg.Payload = revised
		if err := refreshGateCrypto(sess); err != nil {
			return GateOutcome{}, err
		}

		revHash, err := stablehash.Hash(revText)
		if err != nil {
			return GateOutcome{}, err
		}
		meta := map[string]any{
			"old_token":            oldToken,
			"new_token":            pg.ConfirmToken,
			"old_payload_hash":     oldHash,
			"new_payload_hash":     pg.PayloadHash,
			"old_nonce":            oldNonce,
			"new_nonce":            pg.Nonce,
			"revision_text_hash16": revHash[:16],
		}
		if step != nil {
			meta["revision_step"] = *step
		}
		sess.Trace(string(pg.Gate), string(pg.Gate), "revise_in_place_applied", meta)

		if pg.Gate == GateReflectConfirm {
			return GateOutcome{
				Handled: true,
				Reply:   RenderReflectPrompt(sess, "Updated pending request with your revision. Confirm updated intent."),
				Meta:    map[string]any{"revision": true},
			}, nil
		}
		return GateOutcome{
			Handled: true,
			Reply:   RenderScaffoldPrompt(sess, "Updated pending plan with your revision. Approve updated plan."),
			Meta:    map[string]any{"revision": true},
		}, nil
	}

	accepted, status, provided := bindingDecision(userText, pg.ConfirmToken, pg.RequireTokenBinding, pg.Gate)

	if accepted {
		if pg.Nonce != "" && pg.ConsumedNonces[pg.Nonce] {
			sess.Trace(string(pg.Gate), string(pg.Gate), "replay_detected",
				map[string]any{"nonce": pg.Nonce, "attempted_token": provided})
			return GateOutcome{
				Handled: true,
				Reply:   "That confirmation was already processed (replay detected). If you have a new request, restate it.",
				Meta:    map[string]any{"replay": true},
			}, nil
		}
		if pg.Nonce != "" {
			pg.ConsumedNonces[pg.Nonce] = true
		}
		before := pg.Gate
		ClearPendingGate(sess, "confirmed")
		sess.Trace(string(before), string(GateNone), strings.ToLower(string(before))+"_accepted",
			map[string]any{"binding_status": string(status), "provided_token": provided})

		if before == GateReflectConfirm {
			sess.ReflectConfirmed = true
			return GateOutcome{Meta: map[string]any{"gate_cleared": "reflect", "binding_status": string(status)}}, nil
		}
		sess.ScaffoldApproved = true
		return GateOutcome{Meta: map[string]any{"gate_cleared": "scaffold", "binding_status": string(status)}}, nil
	}

	switch status {
	case bindingRejected:
		before := string(pg.Gate)
		ClearPendingGate(sess, "reset")
		sess.Trace(before, string(GateNone), "gate_rejected", nil)
		return GateOutcome{
			Handled: true,
			Reply:   "Okay—tell me what you want instead (goal + constraints + output format).",
			Meta:    map[string]any{"rejected": true},
		}, nil

	case bindingTokenMismatch:
		sess.Trace(string(pg.Gate), string(pg.Gate), "token_mismatch",
			map[string]any{"provided": provided, "expected": pg.ConfirmToken})
		verb := "CONFIRM"
		if pg.Gate == GateScaffoldApprove {
			verb = "APPROVE"
		}
		return GateOutcome{
			Handled: true,
			Reply:   fmt.Sprintf("Token mismatch. Please reply: %s %s", verb, pg.ConfirmToken),
			Meta:    map[string]any{"mismatch": true},
		}, nil

	case bindingMissingToken:
		sess.Trace(string(pg.Gate), string(pg.Gate), "missing_token", map[string]any{"expected": pg.ConfirmToken})
		if pg.Gate == GateReflectConfirm {
			return GateOutcome{
				Handled: true,
				Reply:   fmt.Sprintf("I need explicit confirmation. Reply: CONFIRM %s", pg.ConfirmToken),
				Meta:    map[string]any{"missing_token": true},
			}, nil
		}
		return GateOutcome{
			Handled: true,
			Reply:   fmt.Sprintf("I need explicit approval. Reply: APPROVE %s", pg.ConfirmToken),
			Meta:    map[string]any{"missing_token": true},
		}, nil
	}

	sess.Trace(string(pg.Gate), string(pg.Gate), "unclear_gate_response", nil)
	if pg.Gate == GateReflectConfirm {
		return GateOutcome{
			Handled: true,
			Reply:   RenderReflectPrompt(sess, "Please confirm if this matches your intent."),
			Meta:    map[string]any{"unknown": true},
		}, nil
	}
	return GateOutcome{
		Handled: true,
		Reply:   RenderScaffoldPrompt(sess, "Please approve if this plan is correct."),
		Meta:    map[string]any{"unknown": true},
	}, nil
}
