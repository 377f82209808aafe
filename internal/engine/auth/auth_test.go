package auth_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"submitline/internal/domain"
	"submitline/internal/engine/auth"
	"submitline/internal/events"
)

func TestScope(t *testing.T) {
	assert.Equal(t, auth.ScopeWrite, auth.Scope(events.TypeSetTitle))
	assert.Equal(t, auth.ScopeWrite, auth.Scope(events.TypeRequestWithdrawal))
	assert.Equal(t, auth.ScopeWrite, auth.Scope(events.TypeAddProposal))
	assert.Equal(t, auth.ScopeModerate, auth.Scope(events.TypeAcceptProposal))
	assert.Equal(t, auth.ScopeModerate, auth.Scope(events.TypeAddHold))
	assert.Equal(t, auth.ScopeModerate, auth.Scope(events.TypeAddUserFlag))
	assert.Equal(t, auth.ScopeModerate, auth.Scope(events.TypeAnnounce))
}

func TestAuthorize(t *testing.T) {
	owner := domain.User("1", "owner@example.org")
	other := domain.User("2", "other@example.org")
	s := &domain.Submission{Owner: owner}

	assert.NoError(t, auth.Authorize(owner, events.TypeCreateSubmission, nil))
	assert.NoError(t, auth.Authorize(owner, events.TypeSetTitle, s))

	var forbidden auth.ForbiddenError
	err := auth.Authorize(other, events.TypeSetTitle, s)
	assert.True(t, errors.As(err, &forbidden))
	assert.Equal(t, auth.ScopeWrite, forbidden.Permission)

	err = auth.Authorize(owner, events.TypeAnnounce, s)
	assert.True(t, errors.As(err, &forbidden))
	assert.Equal(t, auth.ScopeModerate, forbidden.Permission)
	assert.Contains(t, err.Error(), "user:1")

	assert.NoError(t, auth.Authorize(domain.System("moderation"), events.TypeAnnounce, s))
	assert.NoError(t, auth.Authorize(domain.Client("ingest"), events.TypeAddHold, s))
}

func TestAuthorizeRead(t *testing.T) {
	owner := domain.User("1", "owner@example.org")
	s := &domain.Submission{Owner: owner}
	assert.NoError(t, auth.AuthorizeRead(owner, s))
	assert.NoError(t, auth.AuthorizeRead(domain.Client("ingest"), s))
	assert.Error(t, auth.AuthorizeRead(domain.User("2", ""), s))
}
