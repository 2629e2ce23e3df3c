package auth

import (
	"context"
	"testing"

	"github.com/niczy/changerequest/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPolicyAuthorizer(t *testing.T) {
	ctx := context.Background()
	cr := &models.ChangeRequest{ID: "cr-1", Authors: []string{"alice"}, Approvers: []string{"erin"}}

	a := NewPolicyAuthorizer(Policy{
		Admins:    []string{"root"},
		Mergers:   []string{"mallory"},
		Reviewers: []string{"bob"},
	})

	tests := []struct {
		user       string
		capability Capability
		want       bool
	}{
		{"", CapabilityReview, false},
		{"root", CapabilityMerge, true},
		{"root", CapabilityReview, true},
		{"alice", CapabilityReview, false},
		{"alice", CapabilityChangeStatus, true},
		{"alice", CapabilityFixConflict, true},
		{"alice", CapabilityEdit, true},
		{"alice", CapabilityMerge, false},
		{"bob", CapabilityReview, true},
		{"bob", CapabilityFixConflict, false},
		{"bob", CapabilityChangeStatus, false},
		{"erin", CapabilityReview, true},
		{"carol", CapabilityReview, false},
		{"mallory", CapabilityMerge, true},
		{"mallory", CapabilityFixConflict, true},
		{"mallory", CapabilityChangeStatus, true},
		{"bob", Capability("delete"), false},
	}

	for _, tt := range tests {
		t.Run(tt.user+"/"+string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.want, a.HasCapability(ctx, tt.user, tt.capability, cr))
		})
	}
}

func TestPolicyAuthorizerOpenReview(t *testing.T) {
	ctx := context.Background()
	cr := &models.ChangeRequest{ID: "cr-1", Authors: []string{"alice"}}

	defaults := NewPolicyAuthorizer(Policy{})
	assert.True(t, defaults.HasCapability(ctx, "carol", CapabilityReview, cr))
	assert.False(t, defaults.HasCapability(ctx, "alice", CapabilityReview, cr))

	open := NewPolicyAuthorizer(Policy{AllowAuthorReview: true})
	assert.True(t, open.HasCapability(ctx, "alice", CapabilityReview, cr))

	assert.False(t, open.HasCapability(ctx, "alice", CapabilityReview, nil))
}

func TestAllowAll(t *testing.T) {
	var a Authorizer = AllowAll{}
	assert.True(t, a.HasCapability(context.Background(), "anyone", CapabilityMerge, nil))
	assert.False(t, a.HasCapability(context.Background(), "", CapabilityMerge, nil))
}
