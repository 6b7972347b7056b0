package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Beaconwise-Labs/tek/pkg/consensus"
	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/governance"
	"github.com/Beaconwise-Labs/tek/pkg/kernel"
	"github.com/Beaconwise-Labs/tek/pkg/replay"
	"github.com/Beaconwise-Labs/tek/pkg/resilience"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m, err := kernel.CurrentManifest()
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]any{
		"status":        fmt.Sprintf("%s running", kernel.ProductName),
		"version":       m["kernel_version"],
		"product":       m["product_name"],
		"mode":          string(s.settings.KernelMode),
		"adapters":      len(s.registry.Providers()),
		"manifest_hash": m["manifest_hash"],
	})
}

func (s *Server) handleConstitution(w http.ResponseWriter, r *http.Request) {
	invariants := governance.Constitution()
	hash, err := governance.ConstitutionHash()
	if err != nil {
		WriteInternal(w, err)
		return
	}

	out := make([]map[string]any, 0, len(invariants))
	for _, inv := range invariants {
		out = append(out, map[string]any{
			"id":          inv.ID,
			"name":        inv.Name,
			"category":    inv.Category,
			"severity":    string(inv.Severity),
			"description": inv.Description,
		})
	}
	WriteJSON(w, map[string]any{
		"constitution_hash": hash,
		"invariant_count":   len(invariants),
		"invariants":        out,
	})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]any{"schemas": governance.Schemas()})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	schema, ok := governance.SchemaByName(name)
	if !ok {
		WriteNotFound(w, fmt.Sprintf("Schema %q not found", name))
		return
	}
	WriteJSON(w, schema)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, s.metrics.Dashboard())
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := kernel.CurrentManifest()
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, m)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := governance.LoadPolicy(s.settings.PolicyPath)
	if err != nil {
		WriteJSON(w, map[string]any{
			"policy": nil,
			"valid":  false,
			"errors": []string{err.Error()},
		})
		return
	}
	errors := governance.ValidatePolicy(policy)
	WriteJSON(w, map[string]any{
		"policy": policy,
		"valid":  len(errors) == 0,
		"errors": errors,
	})
}

// verifyChainRequest carries either an inline chain or a ledger pointer.
type verifyChainRequest struct {
	Chain     []epack.Record `json:"chain,omitempty"`
	EpackPath string         `json:"epack_path,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

func (s *Server) loadChain(r *http.Request, req verifyChainRequest) ([]epack.Record, error) {
	if len(req.Chain) > 0 {
		return req.Chain, nil
	}
	if req.EpackPath == "" {
		return nil, fmt.Errorf("provide either a chain or an epack_path")
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("epack_path requires a session_id")
	}
	sink := epack.NewFileSink(req.EpackPath)
	chain, err := sink.Records(r.Context(), req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	return chain, nil
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	var req verifyChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Malformed JSON body")
		return
	}
	chain, err := s.loadChain(r, req)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	var errs []string
	if err := epack.VerifyChain(chain); err != nil {
		errs = append(errs, err.Error())
	}
	WriteJSON(w, map[string]any{
		"valid":        len(errs) == 0,
		"errors":       errs,
		"record_count": len(chain),
	})
}

type replayRequest struct {
	verifyChainRequest
	Mode string `json:"mode,omitempty"` // "strict" fails the call on DRIFT
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Malformed JSON body")
		return
	}
	chain, err := s.loadChain(r, req.verifyChainRequest)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	results, err := replay.ReplayChain(chain, replay.Options{Clock: s.clock})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	summary := replay.Summarize(results)

	strict := strings.EqualFold(req.Mode, "strict")
	WriteJSON(w, map[string]any{
		"results": results,
		"summary": summary,
		"ok":      summary.Outcome == replay.OutcomeVerified || (!strict && summary.Outcome == replay.OutcomeDrift),
	})
}

type queryRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text"`
	HighStakes bool   `json:"high_stakes,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		WriteBadRequest(w, "text is required")
		return
	}

	cfg := consensus.ConfigFromPolicy(s.policy)
	epackID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	res := s.orch.Run(r.Context(), consensus.RunInput{
		UserQuery:  req.Text,
		HighStakes: req.HighStakes,
		EpackID:    epackID,
		Config:     cfg,
	})

	s.metrics.RecordInteraction(governance.InteractionSample{
		Route:         "TDM",
		ValidationOK:  res.Status != consensus.DecisionRefuse,
		ScopeDecision: res.Status,
		LatencyMS:     res.Timings["total_s"] * 1000,
	})

	validators := make([]string, 0, len(cfg.Validators))
	for _, v := range cfg.Validators {
		validators = append(validators, v.String())
	}
	final := ""
	if res.Output != nil {
		final = res.Output.AnswerText()
	}
	WriteJSON(w, map[string]any{
		"status": res.Status,
		"final":  final,
		"result": res,
		"models": map[string]any{
			"primary":    cfg.Primary.String(),
			"validators": validators,
		},
		"run_id": res.RunID,
		"epack":  res.Epack,
	})
}

// resilienceDecideRequest mirrors the recovery engine inputs. Budgets and
// targets fall back to production defaults when omitted.
type resilienceDecideRequest struct {
	State   resilience.State    `json:"state"`
	Plans   []resilience.Plan   `json:"plans"`
	Budgets *resilience.Budgets `json:"budgets,omitempty"`
	Targets *resilience.Targets `json:"targets,omitempty"`
}

func (s *Server) handleResilienceDecide(w http.ResponseWriter, r *http.Request) {
	var req resilienceDecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Malformed JSON body")
		return
	}
	if len(req.Plans) == 0 {
		WriteBadRequest(w, "at least one plan is required")
		return
	}

	budgets := resilience.DefaultBudgets()
	if req.Budgets != nil {
		budgets = *req.Budgets
	}
	targets := resilience.DefaultTargets()
	if req.Targets != nil {
		targets = *req.Targets
	}

	engine := resilience.NewEngine(budgets, targets, resilience.DefaultScoring())
	triggered, reason := engine.ShouldTrigger(req.State)
	resp := map[string]any{
		"ok":        true,
		"triggered": triggered,
		"reason":    reason,
	}
	if triggered {
		decision := engine.Decide(req.State, req.Plans, resilience.DecideOptions{
			NowMS: s.clock().UnixMilli(),
		})
		resp["decision"] = decision
	}
	WriteJSON(w, resp)
}
