package codeflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

func TestRouteAfterReview(t *testing.T) {
	review := func(approved bool) *ReviewResult {
		return &ReviewResult{Approved: approved}
	}

	tests := []struct {
		name string
		cp   *Checkpoint
		want ReviewRoute
	}{
		{
			name: "task mode approved with tasks remaining advances",
			cp: &Checkpoint{
				TotalTasks:          intPtr(3),
				CurrentTaskIndex:    0,
				TaskReviewIteration: 1,
				LastReview:          review(true),
			},
			want: RouteNextTask,
		},
		{
			name: "task mode approved on last task completes",
			cp: &Checkpoint{
				TotalTasks:          intPtr(3),
				CurrentTaskIndex:    2,
				TaskReviewIteration: 1,
				LastReview:          review(true),
			},
			want: RouteSuccess,
		},
		{
			name: "task mode rejected under budget retries",
			cp: &Checkpoint{
				TotalTasks:          intPtr(3),
				CurrentTaskIndex:    1,
				TaskReviewIteration: 2,
				LastReview:          review(false),
			},
			want: RouteRetryProduce,
		},
		{
			name: "task mode rejected at budget fails",
			cp: &Checkpoint{
				TotalTasks:          intPtr(3),
				CurrentTaskIndex:    1,
				TaskReviewIteration: 3,
				LastReview:          review(false),
			},
			want: RouteFailure,
		},
		{
			name: "single unit approved completes",
			cp: &Checkpoint{
				ReviewIteration: 1,
				LastReview:      review(true),
			},
			want: RouteSuccess,
		},
		{
			name: "single unit rejected under budget retries",
			cp: &Checkpoint{
				ReviewIteration: 1,
				LastReview:      review(false),
			},
			want: RouteRetryProduce,
		},
		{
			name: "single unit rejected at budget fails",
			cp: &Checkpoint{
				ReviewIteration: 3,
				LastReview:      review(false),
			},
			want: RouteFailure,
		},
		{
			name: "single task plan approved completes without advancing",
			cp: &Checkpoint{
				TotalTasks:          intPtr(1),
				CurrentTaskIndex:    0,
				TaskReviewIteration: 1,
				LastReview:          review(true),
			},
			want: RouteSuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, routeAfterReview(tt.cp, 3, 3))
		})
	}
}

func TestRouteAfterReviewHonorsBudgets(t *testing.T) {
	cp := &Checkpoint{
		TotalTasks:          intPtr(2),
		TaskReviewIteration: 5,
		LastReview:          &ReviewResult{Approved: false},
	}
	require.Equal(t, RouteRetryProduce, routeAfterReview(cp, 3, 10))
	require.Equal(t, RouteFailure, routeAfterReview(cp, 3, 5))

	single := &Checkpoint{
		ReviewIteration: 5,
		LastReview:      &ReviewResult{Approved: false},
	}
	require.Equal(t, RouteRetryProduce, routeAfterReview(single, 10, 3))
	require.Equal(t, RouteFailure, routeAfterReview(single, 5, 3))
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, WorkflowStatusPending.CanTransitionTo(WorkflowStatusInProgress))
	require.True(t, WorkflowStatusInProgress.CanTransitionTo(WorkflowStatusBlocked))
	require.True(t, WorkflowStatusInProgress.CanTransitionTo(WorkflowStatusCompleted))
	require.True(t, WorkflowStatusInProgress.CanTransitionTo(WorkflowStatusFailed))
	require.True(t, WorkflowStatusBlocked.CanTransitionTo(WorkflowStatusInProgress))
	require.True(t, WorkflowStatusFailed.CanTransitionTo(WorkflowStatusInProgress))

	require.False(t, WorkflowStatusCompleted.CanTransitionTo(WorkflowStatusInProgress))
	require.False(t, WorkflowStatusCompleted.CanTransitionTo(WorkflowStatusFailed))
	require.False(t, WorkflowStatusPending.CanTransitionTo(WorkflowStatusCompleted))
	require.False(t, WorkflowStatusPending.CanTransitionTo(WorkflowStatusBlocked))
	require.False(t, WorkflowStatusBlocked.CanTransitionTo(WorkflowStatusCompleted))
}
