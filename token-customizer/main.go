// Package main implements the Cognito Pre Token Generation V2.0 trigger that
// adds the caller's master and salon to ID and access tokens.
//
// Identities that are not registered as masters (administrators, for example)
// get their tokens unchanged. Database failures never block sign-in.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"manicure/lib/clients"
	"manicure/lib/constants"
	"manicure/lib/data"
	"manicure/lib/util"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
)

// Global variables for Lambda cold start optimization
var (
	logger    *logrus.Logger
	isLocal   bool
	ssmParams map[string]string
	sqlDB     *sql.DB
)

// Customizer enriches tokens with membership data
type Customizer struct {
	Members data.MemberRepository
	Orgs    data.OrgRepository
	Logger  *logrus.Logger
}

var validTriggerSources = map[string]bool{
	"TokenGeneration_HostedAuth":           true,
	"TokenGeneration_Authentication":       true,
	"TokenGeneration_NewPasswordChallenge": true,
	"TokenGeneration_AuthenticateDevice":   true,
	"TokenGeneration_RefreshTokens":        true,
}

// Handle processes the trigger event. The event's UserName is the Cognito sub,
// which is the member's external identity.
func (c *Customizer) Handle(ctx context.Context, event events.CognitoEventUserPoolsPreTokenGenV2_0) (events.CognitoEventUserPoolsPreTokenGenV2_0, error) {
	c.Logger.WithFields(logrus.Fields{
		"trigger_source": event.TriggerSource,
		"user_pool_id":   event.UserPoolID,
		"username":       event.UserName,
		"operation":      "Handle",
	}).Debug("Processing pre token generation event")

	if !validTriggerSources[event.TriggerSource] {
		c.Logger.WithField("trigger_source", event.TriggerSource).Warn("Invalid trigger source for V2.0, returning event unchanged")
		return event, nil
	}
	if event.UserName == "" {
		return event, errors.New("username cannot be empty")
	}

	member, err := c.Members.GetMemberByExternalIdentity(ctx, event.UserName)
	if err != nil {
		if !errors.Is(err, data.ErrMemberNotFound) {
			c.Logger.WithFields(logrus.Fields{
				"username":  event.UserName,
				"operation": "Handle",
				"error":     err.Error(),
			}).Error("Failed to fetch member, proceeding without custom claims")
		}
		return event, nil
	}

	claims := map[string]interface{}{
		"member_id":    strconv.FormatInt(member.MemberID, 10),
		"org_id":       strconv.FormatInt(member.OrgID, 10),
		"display_name": member.DisplayName,
	}
	if org, err := c.Orgs.GetOrganization(ctx, member.OrgID); err == nil {
		claims["org_name"] = org.Name
	} else {
		c.Logger.WithError(err).WithField("org_id", member.OrgID).Warn("Failed to fetch salon name")
	}

	groups := event.Request.GroupConfiguration.GroupsToOverride
	if groups == nil {
		groups = []string{}
	}

	event.Response.ClaimsAndScopeOverrideDetails = events.ClaimsAndScopeOverrideDetailsV2_0{
		IDTokenGeneration: events.IDTokenGenerationV2_0{
			ClaimsToAddOrOverride: claims,
			ClaimsToSuppress:      []string{},
		},
		AccessTokenGeneration: events.AccessTokenGenerationV2_0{
			ClaimsToAddOrOverride: claims,
			ClaimsToSuppress:      []string{},
			ScopesToAdd:           []string{},
			ScopesToSuppress:      []string{},
		},
		GroupOverrideDetails: events.GroupConfigurationV2_0{
			GroupsToOverride:   groups,
			IAMRolesToOverride: []string{},
		},
	}

	c.Logger.WithFields(logrus.Fields{
		"member_id": member.MemberID,
		"org_id":    member.OrgID,
		"operation": "Handle",
	}).Debug("Added membership claims to token")

	return event, nil
}

func main() {
	customizer, err := setupCustomizer(context.Background())
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "main",
			"error":     err.Error(),
		}).Fatal("Error initializing token customizer")
	}
	lambda.Start(customizer.Handle)
}

func init() {
	isLocal, _ = strconv.ParseBool(os.Getenv("IS_LOCAL"))

	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	util.SetLogLevel(logger, os.Getenv("LOG_LEVEL"))
}

func setupCustomizer(ctx context.Context) (*Customizer, error) {
	ssmClient, err := clients.NewSSMClient(ctx, isLocal)
	if err != nil {
		return nil, err
	}
	ssmRepository := &data.SSMDao{
		SSM:    ssmClient,
		Logger: logger,
	}

	ssmParams, err = ssmRepository.GetParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while getting SSM params from parameter store: %w", err)
	}

	sqlDB, err = clients.NewPostgresSQLClient(ctx,
		ssmParams[constants.DATABASE_RDS_ENDPOINT],
		ssmParams[constants.DATABASE_PORT],
		ssmParams[constants.DATABASE_NAME],
		ssmParams[constants.DATABASE_USERNAME],
		ssmParams[constants.DATABASE_PASSWORD],
		ssmParams[constants.SSL_MODE],
	)
	if err != nil {
		return nil, fmt.Errorf("error creating PostgreSQL client: %w", err)
	}

	return &Customizer{
		Members: &data.MemberDao{DB: sqlDB, Logger: logger},
		Orgs:    &data.OrgDao{DB: sqlDB, Logger: logger},
		Logger:  logger,
	}, nil
}
