package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// AdminGroup is the identity provider group of salon network administrators
const AdminGroup = "admins"

// ErrAdminRequired is returned when a non-admin calls an administrative route
var ErrAdminRequired = errors.New("administrator access required")

// Claims represents the identity claims extracted from the API Gateway authorizer context
type Claims struct {
	Subject  string `json:"sub"` // matches members.external_identity
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
}

// ExtractClaimsFromRequest extracts the caller's claims from the API Gateway request
func ExtractClaimsFromRequest(request events.APIGatewayProxyRequest) (*Claims, error) {
	var claimsMap map[string]interface{}
	var ok bool

	if authClaims, exists := request.RequestContext.Authorizer["claims"]; exists {
		claimsMap, ok = authClaims.(map[string]interface{})
	}

	// Lambda authorizers put the claims directly in the context
	if !ok {
		claimsMap = request.RequestContext.Authorizer
		ok = claimsMap != nil
	}

	if !ok || claimsMap == nil {
		return nil, fmt.Errorf("claims not found in authorizer context")
	}

	subject, ok := claimsMap["sub"].(string)
	if !ok || subject == "" {
		return nil, fmt.Errorf("sub not found or invalid in claims")
	}

	claims := &Claims{Subject: subject}
	claims.Email, _ = claimsMap["email"].(string)
	if username, ok := claimsMap["cognito:username"].(string); ok {
		claims.Username = username
	} else {
		claims.Username, _ = claimsMap["username"].(string)
	}

	switch v := claimsMap["isAdmin"].(type) {
	case bool:
		claims.IsAdmin = v
	case string:
		claims.IsAdmin = v == "true"
	}

	// Groups arrive as a JSON array or as the authorizer's comma/space separated string
	switch groups := claimsMap["cognito:groups"].(type) {
	case []interface{}:
		for _, g := range groups {
			if s, ok := g.(string); ok && s == AdminGroup {
				claims.IsAdmin = true
			}
		}
	case string:
		for _, g := range strings.FieldsFunc(strings.Trim(groups, "[]"), func(r rune) bool { return r == ',' || r == ' ' }) {
			if g == AdminGroup {
				claims.IsAdmin = true
			}
		}
	}

	return claims, nil
}

// RequireAdmin extracts the claims and checks administrator access
func RequireAdmin(request events.APIGatewayProxyRequest) (*Claims, error) {
	claims, err := ExtractClaimsFromRequest(request)
	if err != nil {
		return nil, err
	}
	if !claims.IsAdmin {
		return claims, ErrAdminRequired
	}
	return claims, nil
}

// ToJSON converts claims to JSON string for logging
func (c *Claims) ToJSON() string {
	data, _ := json.Marshal(c)
	return string(data)
}
