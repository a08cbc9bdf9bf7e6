package main

import (
	"context"
	"manicure/lib/clients"
	"manicure/lib/constants"
	"manicure/lib/data"
	"manicure/lib/util"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
)

var (
	logger  *logrus.Logger
	isLocal bool
)

// Preflight answers CORS preflight requests for the configured origins
type Preflight struct {
	AllowedOrigins []string
	Logger         *logrus.Logger
}

func (p *Preflight) Handle(request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestOrigin := headerValue(request.Headers, "origin")
	if requestOrigin == "" {
		p.Logger.Warn("origin is not present in the request headers")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	for _, allowedOrigin := range p.AllowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == requestOrigin {
			p.Logger.WithField("origin", requestOrigin).Debug("Preflight allowed")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusOK,
				Headers: map[string]string{
					"Access-Control-Allow-Origin":      requestOrigin,
					"Access-Control-Allow-Headers":     "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
					"Access-Control-Allow-Methods":     "GET, PUT, DELETE, POST, OPTIONS",
					"Access-Control-Allow-Credentials": "true",
				},
			}, nil
		}
	}

	p.Logger.WithField("origin", requestOrigin).Warn("Unauthorized origin")
	return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
}

// headerValue looks a header up regardless of the casing API Gateway delivered it in
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// parseOrigins splits the comma separated ALLOWED_ORIGINS parameter
func parseOrigins(raw string) []string {
	origins := []string{}
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func main() {
	ctx := context.Background()

	ssmClient, err := clients.NewSSMClient(ctx, isLocal)
	if err != nil {
		logger.WithError(err).Fatal("Error creating SSM client")
	}
	ssmRepository := &data.SSMDao{
		SSM:    ssmClient,
		Logger: logger,
	}

	ssmParams, err := ssmRepository.GetParameters(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Fatal("Error while getting ssm params from param store")
	}

	preflight := &Preflight{
		AllowedOrigins: parseOrigins(ssmParams[constants.ALLOWED_ORIGINS]),
		Logger:         logger,
	}
	logger.WithField("allowed_origins", preflight.AllowedOrigins).Debug("CORS origins loaded")

	lambda.Start(preflight.Handle)
}

func init() {
	isLocal, _ = strconv.ParseBool(os.Getenv("IS_LOCAL"))

	logger = logrus.New()
	util.SetLogLevel(logger, os.Getenv("LOG_LEVEL"))
	logger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint: isLocal,
	})
}
