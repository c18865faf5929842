package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		current entities.SynchronizationStatus
		event   string
		want    entities.SynchronizationStatus
		wantErr bool
	}{
		{name: "missing status becomes ready", current: "", event: EventReady, want: entities.StatusReadyToSync},
		{name: "ready back to dirty", current: entities.StatusReadyToSync, event: EventEdit, want: entities.StatusDirty},
		{name: "ready is idempotent", current: entities.StatusReadyToSync, event: EventReady, want: entities.StatusReadyToSync},
		{name: "dirty syncs", current: entities.StatusDirty, event: EventSync, want: entities.StatusSync},
		{name: "ready deletes", current: entities.StatusReadyToSync, event: EventDelete, want: entities.StatusDeleted},
		{name: "sync cannot go back", current: entities.StatusSync, event: EventEdit, want: entities.StatusSync, wantErr: true},
		{name: "deleted is terminal", current: entities.StatusDeleted, event: EventReady, want: entities.StatusDeleted, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextStatus(ctx, tc.current, tc.event)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidStatusTransition)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want, got)
		})
	}
	require.True(t, CanStatus("", EventSync))
	require.False(t, CanStatus(entities.StatusSync, EventDelete))
}

func TestNextQualityEnforcesDateOrdering(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	root := &entities.RootData{}

	_, err := NextQuality(ctx, root, EventValidate)
	require.ErrorIs(t, err, ErrInvalidQualityTransition)
	_, err = NextQuality(ctx, root, EventQualify)
	require.ErrorIs(t, err, ErrInvalidQualityTransition)
	_, err = NextQuality(ctx, root, EventUnvalidate)
	require.ErrorIs(t, err, ErrInvalidQualityTransition)

	state, err := NextQuality(ctx, root, EventControl)
	require.NoError(t, err)
	require.Equal(t, entities.QualityStateControlled, state)
	ApplyQuality(root, EventControl, now, nil)

	state, err = NextQuality(ctx, root, EventValidate)
	require.NoError(t, err)
	require.Equal(t, entities.QualityStateValidated, state)
	ApplyQuality(root, EventValidate, now, nil)

	_, err = NextQuality(ctx, root, EventValidate)
	require.ErrorIs(t, err, ErrInvalidQualityTransition)

	root.QualificationComments = "checked twice"
	state, err = NextQuality(ctx, root, EventQualify)
	require.NoError(t, err)
	require.Equal(t, entities.QualityStateQualified, state)
	ApplyQuality(root, EventQualify, now, entities.Int(3))
	require.Equal(t, 3, *root.QualityFlagID)
	require.Equal(t, now, *root.QualificationDate)

	state, err = NextQuality(ctx, root, EventUnqualify)
	require.NoError(t, err)
	require.Equal(t, entities.QualityStateValidated, state)
	ApplyQuality(root, EventUnqualify, now, nil)
	require.Nil(t, root.QualificationDate)
	require.Equal(t, entities.QualityFlagNotQualified, *root.QualityFlagID)
	require.Equal(t, "checked twice", root.QualificationComments)

	state, err = NextQuality(ctx, root, EventUnvalidate)
	require.NoError(t, err)
	require.Equal(t, entities.QualityStateControlled, state)
	ApplyQuality(root, EventUnvalidate, now, nil)
	require.Nil(t, root.ValidationDate)
	require.NotNil(t, root.ControlDate)
}
