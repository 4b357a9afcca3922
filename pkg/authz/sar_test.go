package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	authorizationv1 "k8s.io/api/authorization/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestSARAuthorizer(t *testing.T) {
	tests := []struct {
		name       string
		sarAllowed bool
		req        AuthzRequest
	}{
		{
			name:       "project scoped approve allowed",
			sarAllowed: true,
			req:        AuthzRequest{User: "alice", Groups: []string{"consultor"}, Resource: ResourceApprovals, Verb: VerbApprove, Project: "p1"},
		},
		{
			name:       "project scoped delete denied",
			sarAllowed: false,
			req:        AuthzRequest{User: "bob", Resource: ResourceApprovals, Verb: VerbDelete, Project: "p1"},
		},
		{
			name:       "cluster scoped audit list",
			sarAllowed: true,
			req:        AuthzRequest{User: "carol", Groups: []string{"auditor"}, Resource: ResourceAudit, Verb: VerbList},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fake.NewClientset()
			client.Fake.PrependReactor("create", "subjectaccessreviews",
				func(action k8stesting.Action) (bool, runtime.Object, error) {
					sar := action.(k8stesting.CreateAction).GetObject().(*authorizationv1.SubjectAccessReview)
					attrs := sar.Spec.ResourceAttributes
					assert.Equal(t, tt.req.User, sar.Spec.User)
					assert.Equal(t, APIGroup, attrs.Group)
					assert.Equal(t, tt.req.Resource, attrs.Resource)
					assert.Equal(t, tt.req.Verb, attrs.Verb)
					assert.Equal(t, tt.req.Project, attrs.Namespace)

					sar.Status.Allowed = tt.sarAllowed
					return true, sar, nil
				},
			)

			allowed, err := NewSARAuthorizer(client).Authorize(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.sarAllowed, allowed)
		})
	}
}

func TestSARAuthorizer_APIError(t *testing.T) {
	client := fake.NewClientset()
	client.Fake.PrependReactor("create", "subjectaccessreviews",
		func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("apiserver unavailable")
		},
	)

	allowed, err := NewSARAuthorizer(client).Authorize(context.Background(),
		AuthzRequest{User: "alice", Resource: ResourceApprovals, Verb: VerbList})
	require.Error(t, err)
	assert.False(t, allowed)
}
