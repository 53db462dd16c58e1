package scheduler

import "strings"

// RouteRule pairs a role with the keywords that trigger it.
type RouteRule struct {
	Role     AgentRole
	Keywords []string
}

// Router maps free-text task descriptions to agent roles by keyword scoring.
// Rules are evaluated in declaration order so ties resolve deterministically.
type Router struct {
	rules    []RouteRule
	fallback AgentRole
}

// DefaultRoutes is the built-in routing table.
var DefaultRoutes = []RouteRule{
	{Role: RoleResearcher, Keywords: []string{"research", "literature", "survey", "find papers", "related work", "search", "investigate", "sources"}},
	{Role: RoleWriter, Keywords: []string{"write", "draft", "paper", "latex", "section", "abstract", "introduction", "document"}},
	{Role: RoleAnalyst, Keywords: []string{"analyze", "analyse", "data", "statistic", "experiment", "plot", "benchmark", "results"}},
	{Role: RoleReviewer, Keywords: []string{"review", "critique", "check", "verify", "proofread", "feedback"}},
	{Role: RoleCoder, Keywords: []string{"implement", "code", "script", "function", "fix", "refactor", "test"}},
}

// NewRouter creates a router over the given rules. Keywords are matched
// case-insensitively. An empty fallback defaults to RoleCoder.
func NewRouter(rules []RouteRule, fallback AgentRole) *Router {
	if fallback == "" {
		fallback = RoleCoder
	}

	normalized := make([]RouteRule, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		normalized = append(normalized, RouteRule{Role: r.Role, Keywords: kws})
	}

	return &Router{rules: normalized, fallback: fallback}
}

// DefaultRouter returns a router over DefaultRoutes.
func DefaultRouter() *Router {
	return NewRouter(DefaultRoutes, RoleCoder)
}

// Route returns the highest-scoring role for description.
// It never fails: unmatched descriptions get the fallback role.
func (r *Router) Route(description string) AgentRole {
	text := strings.ToLower(description)

	best := r.fallback
	bestScore := 0
	for _, rule := range r.rules {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		// Strictly greater keeps the first-declared role on ties.
		if score > bestScore {
			best = rule.Role
			bestScore = score
		}
	}
	return best
}

// Roles returns the roles in declaration order.
func (r *Router) Roles() []AgentRole {
	roles := make([]AgentRole, 0, len(r.rules))
	for _, rule := range r.rules {
		roles = append(roles, rule.Role)
	}
	return roles
}
