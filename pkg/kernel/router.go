package kernel

import "github.com/Beaconwise-Labs/tek/pkg/contracts"

// RouteTurn evaluates the routing rules in strict order and returns the
// route plus the rule that fired. Pure function of (iv, session); nothing
// else may influence it.
func RouteTurn(iv contracts.InputVector, sess *Session) (contracts.Route, string) {
	if !iv.Safe {
		return contracts.RouteBound, "safety_fail"
	}
	if iv.RequiresReflect && !sess.ReflectConfirmed {
		return contracts.RouteReflect, "requires_reflect"
	}
	if iv.RequiresScaffold && sess.ReflectConfirmed && !sess.ScaffoldApproved {
		return contracts.RouteScaffold, "requires_scaffold"
	}
	if iv.Domain == contracts.DomainHighStakes && !sess.TSV.HighStakesReady() {
		return contracts.RouteDefer, "high_stakes_gate"
	}
	return contracts.RouteTDM, "default"
}
