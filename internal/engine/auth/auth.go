// Package auth decides which agents may submit which events.
package auth

import (
	"fmt"

	"submitline/internal/domain"
	"submitline/internal/events"
)

const (
	ScopeWrite    = "submission:write"
	ScopeModerate = "submission:moderate"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Agent      domain.Agent
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required for %s", e.Permission, e.Agent)
}

// moderated lists the event types only moderators and system processes may
// create.
var moderated = map[events.Type]bool{
	events.TypeAnnounce:               true,
	events.TypeConfirmSourceProcessed: true,
	events.TypeConfirmCompiledPreview: true,
	events.TypeReclassify:             true,
	events.TypeApproveRequest:         true,
	events.TypeRejectRequest:          true,
	events.TypeApplyRequest:           true,
	events.TypeAcceptProposal:         true,
	events.TypeRejectProposal:         true,
	events.TypeAddProcessStatus:       true,
	events.TypeAddFeature:             true,
	events.TypeAddClassifierResults:   true,
}

// Scope returns the permission needed to create an event of type t.
func Scope(t events.Type) string {
	switch {
	case moderated[t]:
		return ScopeModerate
	case t.Family() == events.FamilyHold, t.Family() == events.FamilyFlag:
		return ScopeModerate
	}
	return ScopeWrite
}

// Scopes lists the permissions an agent holds. Users may only write;
// clients and system agents may also moderate.
func Scopes(a domain.Agent) []string {
	if a.Type == domain.AgentUser {
		return []string{ScopeWrite}
	}
	return []string{ScopeWrite, ScopeModerate}
}

func hasScope(a domain.Agent, scope string) bool {
	for _, s := range Scopes(a) {
		if s == scope {
			return true
		}
	}
	return false
}

// Authorize checks that agent may append an event of type t to s. s is nil
// for a submission that does not exist yet. Users may only act on
// submissions they own.
func Authorize(agent domain.Agent, t events.Type, s *domain.Submission) error {
	scope := Scope(t)
	if !hasScope(agent, scope) {
		return ForbiddenError{Permission: scope, Agent: agent}
	}
	if agent.Type == domain.AgentUser && s != nil && !s.Owner.Equal(agent) {
		return ForbiddenError{Permission: ScopeWrite, Agent: agent}
	}
	return nil
}

// AuthorizeRead checks that agent may see s. Users only see their own
// submissions.
func AuthorizeRead(agent domain.Agent, s *domain.Submission) error {
	if agent.Type == domain.AgentUser && s != nil && !s.Owner.Equal(agent) {
		return ForbiddenError{Permission: ScopeWrite, Agent: agent}
	}
	return nil
}
