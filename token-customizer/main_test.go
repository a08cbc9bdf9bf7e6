package main

import (
	"context"
	"errors"
	"manicure/lib/data"
	"manicure/lib/data/datatest"
	"manicure/lib/models"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingMembers struct {
	data.MemberRepository
}

func (failingMembers) GetMemberByExternalIdentity(ctx context.Context, identity string) (*models.Member, error) {
	return nil, errors.New("connection refused")
}

func newCustomizer() *Customizer {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	orgs := datatest.NewOrgs(models.Organization{OrgID: 3, Name: "Nail Studio"})
	members := datatest.NewMembers(datatest.NewTasks(), models.Member{MemberID: 7, OrgID: 3, DisplayName: "Anna", ExternalIdentity: "tg:1001"})
	return &Customizer{Members: members, Orgs: orgs, Logger: log}
}

func tokenEvent(trigger, username string) events.CognitoEventUserPoolsPreTokenGenV2_0 {
	var event events.CognitoEventUserPoolsPreTokenGenV2_0
	event.TriggerSource = trigger
	event.UserName = username
	return event
}

func TestCustomizer_AddsMembershipClaims(t *testing.T) {
	c := newCustomizer()
	event := tokenEvent("TokenGeneration_Authentication", "tg:1001")
	event.Request.GroupConfiguration.GroupsToOverride = []string{"masters"}

	out, err := c.Handle(context.Background(), event)

	require.NoError(t, err)
	claims := out.Response.ClaimsAndScopeOverrideDetails.IDTokenGeneration.ClaimsToAddOrOverride
	assert.Equal(t, "7", claims["member_id"])
	assert.Equal(t, "3", claims["org_id"])
	assert.Equal(t, "Nail Studio", claims["org_name"])
	assert.Equal(t, claims, out.Response.ClaimsAndScopeOverrideDetails.AccessTokenGeneration.ClaimsToAddOrOverride)
	assert.Equal(t, []string{"masters"}, out.Response.ClaimsAndScopeOverrideDetails.GroupOverrideDetails.GroupsToOverride)
}

func TestCustomizer_LeavesTokenUnchanged(t *testing.T) {
	tests := []struct {
		name     string
		trigger  string
		username string
		members  data.MemberRepository
	}{
		{"unregistered identity", "TokenGeneration_RefreshTokens", "admin-1", nil},
		{"legacy trigger", "TokenGeneration_Legacy", "tg:1001", nil},
		{"database failure", "TokenGeneration_HostedAuth", "tg:1001", failingMembers{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCustomizer()
			if tt.members != nil {
				c.Members = tt.members
			}

			out, err := c.Handle(context.Background(), tokenEvent(tt.trigger, tt.username))

			require.NoError(t, err)
			assert.Nil(t, out.Response.ClaimsAndScopeOverrideDetails.IDTokenGeneration.ClaimsToAddOrOverride)
		})
	}
}

func TestCustomizer_EmptyUsername(t *testing.T) {
	_, err := newCustomizer().Handle(context.Background(), tokenEvent("TokenGeneration_Authentication", ""))
	assert.Error(t, err)
}
