package toolregistry

import (
	"github.com/rs/zerolog/log"
)

// Policy restricts which tools are exposed.
type Policy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" mapstructure:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (p *Policy) IsToolAllowed(toolName string) bool {
	if p == nil {
		return true
	}

	for _, denied := range p.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range p.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// Warnings logs and returns policy shapes that are legal but probably unintended.
func (p *Policy) Warnings() []string {
	if p == nil {
		return nil
	}

	var warnings []string
	hasAllowWildcard := contains(p.Allow, "*")
	hasDenyWildcard := contains(p.Deny, "*")

	if hasAllowWildcard && hasDenyWildcard {
		warnings = append(warnings, "policy has both allow and deny wildcards, deny wins")
	}
	if len(p.Allow) == 0 {
		warnings = append(warnings, "policy has an empty allow list, every tool is denied")
	}

	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	return warnings
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
