package main

// defaultRuleset is written by `skillsense init`. It activates skills
// whose index embedding is close to the triggering content and
// deactivates everything when the session stops.
const defaultRuleset = `package rules

import "skillsense/hostapi"

// Skills scoring at or above this similarity against the event content
// are activated. Tune via the rules.params.threshold config key.
func EvaluateActivation(ctx hostapi.Context) []string {
	if ctx.HookType == "stop" || ctx.RecentMessage == "" {
		return nil
	}

	threshold := hostapi.GetParamNumber("threshold", 0.6)
	limit := int(hostapi.GetParamNumber("max_matches", 3))

	var ids []string
	for _, m := range hostapi.SearchSkills(ctx.RecentMessage, limit) {
		if m.Score >= threshold {
			hostapi.Log("debug", "activating "+m.Name)
			ids = append(ids, m.SkillID)
		}
	}
	return ids
}

// Everything is released when the session stops; otherwise activation
// is sticky for the life of the session.
func EvaluateDeactivation(ctx hostapi.Context) []string {
	if ctx.HookType != "stop" {
		return nil
	}
	return hostapi.GetActiveSkills(ctx.SessionID)
}
`
