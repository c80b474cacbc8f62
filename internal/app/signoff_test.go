package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandlift/api/internal/access"
	"brandlift/api/internal/store"
)

func TestSignOffWorkflow(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	editor := testCaller("org-a", "editor")
	reviewer := testCaller("org-a", "reviewer")
	admin := testCaller("org-a", "admin")
	st, _ := seedStudy(t, svc, editor, 1)
	target := access.Study(st.ID)

	view, err := svc.GetApproval(ctx, editor, target)
	require.NoError(t, err)
	assert.Equal(t, SignOffNotRequested, view.SignOff)
	assert.Equal(t, "DRAFT", view.Status)

	_, err = svc.RequestSignOff(ctx, editor, target, RequestSignOffInput{})
	requireDomainError(t, err, http.StatusConflict, "STUDY_NOT_EDITABLE")

	_, err = svc.TransitionStudy(ctx, editor, target, TransitionInput{Status: "PENDING_APPROVAL"})
	require.NoError(t, err)
	_, err = svc.TransitionStudy(ctx, reviewer, target, TransitionInput{Status: "APPROVED"})
	require.NoError(t, err)

	_, err = svc.SignOff(ctx, reviewer, target)
	requireDomainError(t, err, http.StatusConflict, "SIGN_OFF_NOT_REQUESTED")

	_, err = svc.RequestSignOff(ctx, reviewer, target, RequestSignOffInput{})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	requested, err := svc.RequestSignOff(ctx, editor, target, RequestSignOffInput{Note: "Client wants this before fielding"})
	require.NoError(t, err)
	assert.Equal(t, SignOffRequested, requested.SignOff)
	assert.Equal(t, editor.UserID, requested.RequestedBy)
	require.NotNil(t, requested.RequestedAt)
	assert.Nil(t, requested.SignedOffAt)

	again, err := svc.RequestSignOff(ctx, editor, target, RequestSignOffInput{})
	require.NoError(t, err)
	assert.Equal(t, requested.RequestedAt, again.RequestedAt)

	_, err = svc.SignOff(ctx, editor, target)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	signed, err := svc.SignOff(ctx, reviewer, target)
	require.NoError(t, err)
	assert.Equal(t, SignOffSigned, signed.SignOff)
	assert.Equal(t, reviewer.UserID, signed.SignedOffBy)
	require.NotNil(t, signed.SignedOffAt)

	repeat, err := svc.SignOff(ctx, admin, target)
	require.NoError(t, err)
	assert.Equal(t, reviewer.UserID, repeat.SignedOffBy)
	assert.Equal(t, signed.SignedOffAt, repeat.SignedOffAt)

	kinds := eventKinds(t, mem, st.ID)
	assert.Equal(t, 1, countKind(kinds, store.EventSignOffRequested))
	assert.Equal(t, 1, countKind(kinds, store.EventSignedOff))

	current, err := mem.GetStudy(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", string(current.Status))

	_, err = svc.TransitionStudy(ctx, admin, target, TransitionInput{Status: "COLLECTING"})
	require.NoError(t, err)
	_, err = svc.SignOff(ctx, admin, target)
	requireDomainError(t, err, http.StatusConflict, "STUDY_NOT_EDITABLE")

	view, err = svc.GetApproval(ctx, editor, target)
	require.NoError(t, err)
	assert.Equal(t, SignOffSigned, view.SignOff)
	assert.Equal(t, "COLLECTING", view.Status)
}

func TestSignOffCanBeRequestedDuringReview(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	editor := testCaller("org-a", "editor")
	reviewer := testCaller("org-a", "reviewer")
	st, _ := seedStudy(t, svc, editor, 1)
	target := access.Study(st.ID)

	_, err := svc.TransitionStudy(ctx, editor, target, TransitionInput{Status: "PENDING_APPROVAL"})
	require.NoError(t, err)
	_, err = svc.RequestSignOff(ctx, editor, target, RequestSignOffInput{})
	require.NoError(t, err)

	_, err = svc.SignOff(ctx, reviewer, target)
	requireDomainError(t, err, http.StatusConflict, "STUDY_NOT_EDITABLE")

	_, err = svc.TransitionStudy(ctx, reviewer, target, TransitionInput{Status: "APPROVED"})
	require.NoError(t, err)
	signed, err := svc.SignOff(ctx, reviewer, target)
	require.NoError(t, err)
	assert.Equal(t, SignOffSigned, signed.SignOff)
}

func TestSignOffIsTenantScoped(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	owner := testCaller("org-a", "admin")
	intruder := testCaller("org-b", "admin")
	st, _ := seedStudy(t, svc, owner, 1)
	target := access.Study(st.ID)
	_, err := svc.TransitionStudy(ctx, owner, target, TransitionInput{Status: "PENDING_APPROVAL"})
	require.NoError(t, err)
	_, err = svc.TransitionStudy(ctx, owner, target, TransitionInput{Status: "APPROVED"})
	require.NoError(t, err)

	_, err = svc.GetApproval(ctx, intruder, target)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = svc.RequestSignOff(ctx, intruder, target, RequestSignOffInput{})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = svc.SignOff(ctx, intruder, target)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = mem.GetSignOff(ctx, st.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestSignOffRejectsLongNote(t *testing.T) {
	svc, _ := newTestService(t)
	editor := testCaller("org-a", "editor")
	st, _ := seedStudy(t, svc, editor, 1)

	long := make([]rune, maxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := svc.RequestSignOff(context.Background(), editor, access.Study(st.ID), RequestSignOffInput{Note: string(long)})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}
