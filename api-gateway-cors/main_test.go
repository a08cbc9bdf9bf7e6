package main

import (
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreflight(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tests := []struct {
		name       string
		origins    string
		headers    map[string]string
		wantStatus int
	}{
		{"allowed origin", "https://app.example.com, https://admin.example.com", map[string]string{"origin": "https://admin.example.com"}, http.StatusOK},
		{"header casing", "https://app.example.com", map[string]string{"Origin": "https://app.example.com"}, http.StatusOK},
		{"wildcard", "*", map[string]string{"origin": "http://localhost:3000"}, http.StatusOK},
		{"unknown origin", "https://app.example.com", map[string]string{"origin": "https://evil.example.com"}, http.StatusBadRequest},
		{"missing origin", "*", map[string]string{}, http.StatusBadRequest},
		{"no configured origins", "", map[string]string{"origin": "https://app.example.com"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Preflight{AllowedOrigins: parseOrigins(tt.origins), Logger: log}

			resp, err := p.Handle(events.APIGatewayProxyRequest{Headers: tt.headers})

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, headerValue(tt.headers, "origin"), resp.Headers["Access-Control-Allow-Origin"])
			}
		})
	}
}
