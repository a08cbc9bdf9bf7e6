package auth

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWith(authorizer map[string]interface{}) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		RequestContext: events.APIGatewayProxyRequestContext{Authorizer: authorizer},
	}
}

func TestExtractClaimsFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		authorizer map[string]interface{}
		want       *Claims
		wantErr    bool
	}{
		{
			name: "cognito user pool claims",
			authorizer: map[string]interface{}{"claims": map[string]interface{}{
				"sub": "tg:1001", "email": "anna@example.com", "cognito:username": "anna_nails",
			}},
			want: &Claims{Subject: "tg:1001", Email: "anna@example.com", Username: "anna_nails"},
		},
		{
			name:       "lambda authorizer context",
			authorizer: map[string]interface{}{"sub": "tg:1001", "isAdmin": "true"},
			want:       &Claims{Subject: "tg:1001", IsAdmin: true},
		},
		{
			name: "admin group as string",
			authorizer: map[string]interface{}{"claims": map[string]interface{}{
				"sub": "tg:1", "cognito:groups": "[masters, admins]",
			}},
			want: &Claims{Subject: "tg:1", IsAdmin: true},
		},
		{
			name: "admin group as list",
			authorizer: map[string]interface{}{"claims": map[string]interface{}{
				"sub": "tg:1", "cognito:groups": []interface{}{"admins"},
			}},
			want: &Claims{Subject: "tg:1", IsAdmin: true},
		},
		{
			name:       "missing subject",
			authorizer: map[string]interface{}{"claims": map[string]interface{}{"email": "a@example.com"}},
			wantErr:    true,
		},
		{
			name:    "no authorizer",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ExtractClaimsFromRequest(requestWith(tt.authorizer))

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	_, err := RequireAdmin(requestWith(map[string]interface{}{"sub": "tg:1001"}))
	assert.ErrorIs(t, err, ErrAdminRequired)

	claims, err := RequireAdmin(requestWith(map[string]interface{}{"sub": "tg:1", "isAdmin": true}))
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}
