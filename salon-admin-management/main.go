package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"manicure/lib/api"
	"manicure/lib/auth"
	"manicure/lib/clients"
	"manicure/lib/constants"
	"manicure/lib/data"
	"manicure/lib/models"
	"manicure/lib/util"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
)

// Handler struct contains all dependencies for the Lambda function
type Handler struct {
	Orgs    data.OrgRepository
	Members data.MemberRepository
	Tasks   data.TaskRepository
	Stats   data.StatsRepository
	Logger  *logrus.Logger
	Now     func() time.Time
}

// Report sizes, overridable with ?limit=
const (
	defaultSalonReportSize  = 10
	defaultMasterReportSize = 15
	maxReportSize           = 100
)

// Global variables for Lambda cold start optimization
var (
	logger    *logrus.Logger    // Structured logger
	isLocal   bool              // Development/local execution flag
	ssmParams map[string]string // Cached SSM parameters (database config)
	sqlDB     *sql.DB           // PostgreSQL connection pool (reused across invocations)
)

// Handle serves the salon network administration API. Only administrators may call it.
//
//	POST   /salons                       - Register a salon
//	GET    /salons                       - List active salons
//	GET    /salons/{orgId}               - Salon with its quota view
//	PUT    /salons/{orgId}/quota-limit   - Replace the quota limit
//	POST   /salons/{orgId}/quota         - Top up the quota limit
//	DELETE /salons/{orgId}               - Deactivate a salon and its masters
//	POST   /masters                      - Register a master
//	PUT    /masters/{memberId}/salon     - Move a master to another salon
//	GET    /masters/{memberId}/stats     - Task statistics of a master
//	DELETE /masters/{memberId}           - Deactivate a master
//	GET    /tasks/disputed               - Disputed tasks awaiting resolution
//	GET    /stats                        - Network totals and today's analyses
//	GET    /stats/salons                 - Salons ranked by quota usage
//	GET    /stats/masters                - Masters ranked by finalized tasks
//	GET    /stats/period                 - Analyses over today, 7 and 30 days
func (h *Handler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.Logger.WithFields(logrus.Fields{
		"operation": "Handle",
		"method":    request.HTTPMethod,
		"path":      request.Path,
		"resource":  request.Resource,
	}).Info("Salon administration request received")

	claims, err := auth.RequireAdmin(request)
	if err != nil {
		if errors.Is(err, auth.ErrAdminRequired) {
			h.Logger.WithField("sub", claims.Subject).Warn("Caller is not an administrator")
			return api.ErrorResponse(http.StatusForbidden, "Forbidden: only administrators can manage salons", h.Logger), nil
		}
		h.Logger.WithError(err).Error("Authentication failed")
		return api.ErrorResponse(http.StatusUnauthorized, "Authentication failed", h.Logger), nil
	}

	switch {
	case request.Resource == "/salons" && request.HTTPMethod == http.MethodPost:
		return h.handleCreateSalon(ctx, request.Body), nil
	case request.Resource == "/salons" && request.HTTPMethod == http.MethodGet:
		return h.handleListSalons(ctx), nil
	case strings.HasPrefix(request.Resource, "/salons/{orgId}"):
		orgID, err := api.ParseIDParam(request.PathParameters, "orgId")
		if err != nil {
			return api.ErrorResponse(http.StatusBadRequest, "Invalid salon ID", h.Logger), nil
		}
		return h.routeSalon(ctx, request, orgID), nil
	case request.Resource == "/masters" && request.HTTPMethod == http.MethodPost:
		return h.handleCreateMaster(ctx, request.Body), nil
	case strings.HasPrefix(request.Resource, "/masters/{memberId}"):
		memberID, err := api.ParseIDParam(request.PathParameters, "memberId")
		if err != nil {
			return api.ErrorResponse(http.StatusBadRequest, "Invalid master ID", h.Logger), nil
		}
		return h.routeMaster(ctx, request, memberID), nil
	case request.Resource == "/tasks/disputed" && request.HTTPMethod == http.MethodGet:
		return h.handleListDisputed(ctx), nil
	case strings.HasPrefix(request.Resource, "/stats") && request.HTTPMethod == http.MethodGet:
		return h.routeStats(ctx, request), nil
	}

	return h.notFound(request), nil
}

func (h *Handler) routeSalon(ctx context.Context, request events.APIGatewayProxyRequest, orgID int64) events.APIGatewayProxyResponse {
	switch {
	case request.Resource == "/salons/{orgId}" && request.HTTPMethod == http.MethodGet:
		return h.handleGetSalon(ctx, orgID)
	case request.Resource == "/salons/{orgId}" && request.HTTPMethod == http.MethodDelete:
		return h.handleDeactivateSalon(ctx, orgID)
	case request.Resource == "/salons/{orgId}/quota-limit" && request.HTTPMethod == http.MethodPut:
		return h.handleSetQuotaLimit(ctx, orgID, request.Body)
	case request.Resource == "/salons/{orgId}/quota" && request.HTTPMethod == http.MethodPost:
		return h.handleAddQuota(ctx, orgID, request.Body)
	}
	return h.notFound(request)
}

func (h *Handler) routeMaster(ctx context.Context, request events.APIGatewayProxyRequest, memberID int64) events.APIGatewayProxyResponse {
	switch {
	case request.Resource == "/masters/{memberId}/salon" && request.HTTPMethod == http.MethodPut:
		return h.handleReassignMaster(ctx, memberID, request.Body)
	case request.Resource == "/masters/{memberId}/stats" && request.HTTPMethod == http.MethodGet:
		return h.handleMasterStats(ctx, memberID)
	case request.Resource == "/masters/{memberId}" && request.HTTPMethod == http.MethodDelete:
		return h.handleDeactivateMaster(ctx, memberID)
	}
	return h.notFound(request)
}

func (h *Handler) routeStats(ctx context.Context, request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	switch request.Resource {
	case "/stats":
		return h.handleNetworkStats(ctx)
	case "/stats/salons":
		return h.handleSalonReport(ctx, request.QueryStringParameters)
	case "/stats/masters":
		return h.handleMasterReport(ctx, request.QueryStringParameters)
	case "/stats/period":
		return h.handlePeriodStats(ctx)
	}
	return h.notFound(request)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) notFound(request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	h.Logger.WithFields(logrus.Fields{
		"method":    request.HTTPMethod,
		"resource":  request.Resource,
		"operation": "Handle",
	}).Warn("Endpoint not found")
	return api.ErrorResponse(http.StatusNotFound, "Endpoint not found", h.Logger)
}

// handleCreateSalon handles POST /salons
func (h *Handler) handleCreateSalon(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var createReq models.CreateOrganizationRequest
	if err := api.ParseJSONBody(body, &createReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	org, err := h.Orgs.CreateOrganization(ctx, &models.Organization{
		Name:       strings.TrimSpace(createReq.Name),
		Location:   strings.TrimSpace(createReq.Location),
		QuotaLimit: createReq.QuotaLimit,
	})
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusCreated, org, h.Logger)
}

// handleListSalons handles GET /salons
func (h *Handler) handleListSalons(ctx context.Context) events.APIGatewayProxyResponse {
	orgs, err := h.Orgs.ListOrganizations(ctx)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	quotas := make([]models.QuotaResponse, 0, len(orgs))
	for i := range orgs {
		quotas = append(quotas, models.NewQuotaResponse(&orgs[i]))
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"salons": quotas,
		"count":  len(quotas),
	}, h.Logger)
}

// handleGetSalon handles GET /salons/{orgId}
func (h *Handler) handleGetSalon(ctx context.Context, orgID int64) events.APIGatewayProxyResponse {
	org, err := h.Orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"salon": org,
		"quota": models.NewQuotaResponse(org),
	}, h.Logger)
}

// handleSetQuotaLimit handles PUT /salons/{orgId}/quota-limit. A limit below
// current usage is accepted and leaves no analyses remaining.
func (h *Handler) handleSetQuotaLimit(ctx context.Context, orgID int64, body string) events.APIGatewayProxyResponse {
	var limitReq models.UpdateQuotaLimitRequest
	if err := api.ParseJSONBody(body, &limitReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	org, err := h.Orgs.SetQuotaLimit(ctx, orgID, limitReq.QuotaLimit)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, models.NewQuotaResponse(org), h.Logger)
}

// handleAddQuota handles POST /salons/{orgId}/quota
func (h *Handler) handleAddQuota(ctx context.Context, orgID int64, body string) events.APIGatewayProxyResponse {
	var addReq models.AddQuotaRequest
	if err := api.ParseJSONBody(body, &addReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	org, err := h.Orgs.AddQuota(ctx, orgID, addReq.Amount)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, models.NewQuotaResponse(org), h.Logger)
}

// handleDeactivateSalon handles DELETE /salons/{orgId}
func (h *Handler) handleDeactivateSalon(ctx context.Context, orgID int64) events.APIGatewayProxyResponse {
	deactivated, err := h.Orgs.DeactivateOrganization(ctx, orgID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, models.DeactivateOrganizationResponse{
		OrgID:              orgID,
		DeactivatedMembers: deactivated,
	}, h.Logger)
}

// handleCreateMaster handles POST /masters
func (h *Handler) handleCreateMaster(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var createReq models.CreateMemberRequest
	if err := api.ParseJSONBody(body, &createReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	member := &models.Member{
		OrgID:            createReq.OrgID,
		DisplayName:      strings.TrimSpace(createReq.DisplayName),
		ExternalIdentity: strings.TrimSpace(createReq.ExternalIdentity),
	}
	if username := strings.TrimSpace(createReq.Username); username != "" {
		member.Username = util.StringPtr(username)
	}

	created, err := h.Members.CreateMember(ctx, member)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusCreated, created, h.Logger)
}

// handleReassignMaster handles PUT /masters/{memberId}/salon. Tasks already
// started stay with the salon they were created under.
func (h *Handler) handleReassignMaster(ctx context.Context, memberID int64, body string) events.APIGatewayProxyResponse {
	var reassignReq models.ReassignMemberRequest
	if err := api.ParseJSONBody(body, &reassignReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	member, err := h.Members.ReassignMember(ctx, memberID, reassignReq.OrgID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, member, h.Logger)
}

// handleMasterStats handles GET /masters/{memberId}/stats
func (h *Handler) handleMasterStats(ctx context.Context, memberID int64) events.APIGatewayProxyResponse {
	if _, err := h.Members.GetMember(ctx, memberID); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	stats, err := h.Members.GetMemberStats(ctx, memberID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, stats, h.Logger)
}

// handleDeactivateMaster handles DELETE /masters/{memberId}
func (h *Handler) handleDeactivateMaster(ctx context.Context, memberID int64) events.APIGatewayProxyResponse {
	if err := h.Members.DeactivateMember(ctx, memberID); err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.NoContentResponse()
}

// handleListDisputed handles GET /tasks/disputed
func (h *Handler) handleListDisputed(ctx context.Context) events.APIGatewayProxyResponse {
	tasks, err := h.Tasks.ListTasksByStatus(ctx, models.TaskStatusDisputed)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	}, h.Logger)
}

// handleNetworkStats handles GET /stats
func (h *Handler) handleNetworkStats(ctx context.Context) events.APIGatewayProxyResponse {
	stats, err := h.Stats.GetNetworkStats(ctx, h.now())
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, stats, h.Logger)
}

// handleSalonReport handles GET /stats/salons
func (h *Handler) handleSalonReport(ctx context.Context, query map[string]string) events.APIGatewayProxyResponse {
	limit, err := api.ParseLimitParam(query, "limit", defaultSalonReportSize, maxReportSize)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	salons, total, err := h.Stats.ListSalonUsage(ctx, limit)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"salons": salons,
		"shown":  len(salons),
		"total":  total,
	}, h.Logger)
}

// handleMasterReport handles GET /stats/masters
func (h *Handler) handleMasterReport(ctx context.Context, query map[string]string) events.APIGatewayProxyResponse {
	limit, err := api.ParseLimitParam(query, "limit", defaultMasterReportSize, maxReportSize)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}

	masters, total, err := h.Stats.ListMasterRanking(ctx, limit)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"masters": masters,
		"shown":   len(masters),
		"total":   total,
	}, h.Logger)
}

// handlePeriodStats handles GET /stats/period
func (h *Handler) handlePeriodStats(ctx context.Context) events.APIGatewayProxyResponse {
	stats, err := h.Stats.GetPeriodStats(ctx, h.now())
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger)
	}
	return api.SuccessResponse(http.StatusOK, stats, h.Logger)
}

func init() {
	isLocal = parseIsLocal()
	logger = setupLogger(isLocal)
}

func main() {
	handler, err := setupHandler(context.Background())
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "main",
			"error":     err.Error(),
		}).Fatal("Error initializing salon administration handler")
	}
	lambda.Start(handler.Handle)
}

func parseIsLocal() bool {
	isLocal, _ := strconv.ParseBool(os.Getenv("IS_LOCAL"))
	return isLocal
}

func setupLogger(isLocal bool) *logrus.Logger {
	logger := logrus.New()
	util.SetLogLevel(logger, os.Getenv("LOG_LEVEL"))
	logger.SetFormatter(&logrus.JSONFormatter{PrettyPrint: isLocal})
	return logger
}

func setupHandler(ctx context.Context) (*Handler, error) {
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

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.WithField("operation", "setupHandler").Debug("PostgreSQL client initialized successfully")
	}

	return &Handler{
		Orgs:    &data.OrgDao{DB: sqlDB, Logger: logger},
		Members: &data.MemberDao{DB: sqlDB, Logger: logger},
		Tasks:   &data.TaskDao{DB: sqlDB, Logger: logger},
		Stats:   &data.StatsDao{DB: sqlDB, Logger: logger},
		Logger:  logger,
	}, nil
}
