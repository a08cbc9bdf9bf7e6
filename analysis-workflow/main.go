package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"manicure/lib/analysis"
	"manicure/lib/api"
	"manicure/lib/auth"
	"manicure/lib/clients"
	"manicure/lib/constants"
	"manicure/lib/data"
	"manicure/lib/models"
	"manicure/lib/quota"
	"manicure/lib/util"
	"manicure/lib/workflow"
	"net/http"
	"os"
	"strconv"
	"time"

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

// Handler serves the master's analysis workflow. Every route acts on behalf of
// the member resolved from the caller's identity.
//
// Tasks:
//
//	POST   /tasks                               - Start a task (quota gate)
//	GET    /tasks/current                       - Resume the unfinished task
//	GET    /tasks/{taskId}                      - Get a task with its allowed actions
//	DELETE /tasks/{taskId}                      - Cancel a task and delete its photos
//
// Photos:
//
//	POST   /tasks/{taskId}/photos/upload-url    - Presigned upload URL for the active group
//	POST   /tasks/{taskId}/photos               - Attach an uploaded photo
//	DELETE /tasks/{taskId}/photos/last          - Remove the newest photo
//
// Workflow:
//
//	POST   /tasks/{taskId}/advance              - Close the current photo group
//	POST   /tasks/{taskId}/back                 - Return to the first group
//	POST   /tasks/{taskId}/survey               - Submit the survey
//	POST   /tasks/{taskId}/survey/edit          - Reopen the survey
//	POST   /tasks/{taskId}/analysis             - Run the analysis
//	POST   /tasks/{taskId}/retry                - Make a failed analysis ready again
//	GET    /tasks/{taskId}/results              - Read the report
//	POST   /tasks/{taskId}/accept               - Accept the report (debits quota)
//	POST   /tasks/{taskId}/dispute              - Start a dispute
//	POST   /tasks/{taskId}/dispute/reason       - Submit the dispute reason
//	POST   /tasks/{taskId}/dispute/cancel       - Abandon the dispute
//	GET    /tasks/{taskId}/steps                - Analysis step log
//
// Master:
//
//	GET    /quota                               - Quota of the master's salon
//	GET    /me/stats                            - Task statistics
type Handler struct {
	Members  data.MemberRepository
	StepLogs data.StepLogRepository
	Photos   clients.PhotoStore
	Service  *workflow.Service
	Logger   *logrus.Logger
}

// Handle routes an API Gateway request
func (h *Handler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.Logger.WithFields(logrus.Fields{
		"method":      request.HTTPMethod,
		"path":        request.Path,
		"resource":    request.Resource,
		"path_params": request.PathParameters,
		"operation":   "Handler",
	}).Debug("Processing analysis workflow request")

	claims, err := auth.ExtractClaimsFromRequest(request)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"error":     err.Error(),
			"operation": "Handler",
		}).Error("Authentication failed")
		return api.ErrorResponse(http.StatusUnauthorized, "Authentication failed", h.Logger), nil
	}

	member, err := h.Members.GetMemberByExternalIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, data.ErrMemberNotFound) {
			return api.ErrorResponse(http.StatusForbidden, "Caller is not registered as a master", h.Logger), nil
		}
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	h.Logger.WithFields(logrus.Fields{
		"member_id": member.MemberID,
		"org_id":    member.OrgID,
		"operation": "Handler",
	}).Debug("Master resolved")

	switch {
	case request.Resource == "/tasks" && request.HTTPMethod == "POST":
		return h.handleStartTask(ctx, member)
	case request.Resource == "/tasks/current" && request.HTTPMethod == "GET":
		return h.handleCurrentTask(ctx, member)
	case request.Resource == "/tasks/{taskId}" && request.HTTPMethod == "GET":
		return h.withTask(ctx, request, member, h.handleGetTask)
	case request.Resource == "/tasks/{taskId}" && request.HTTPMethod == "DELETE":
		return h.withTask(ctx, request, member, h.handleCancel)

	// Photos
	case request.Resource == "/tasks/{taskId}/photos/upload-url" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleUploadURL)
	case request.Resource == "/tasks/{taskId}/photos" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleAddPhoto)
	case request.Resource == "/tasks/{taskId}/photos/last" && request.HTTPMethod == "DELETE":
		return h.withTask(ctx, request, member, h.handleRemoveLastPhoto)

	// Workflow intents
	case request.Resource == "/tasks/{taskId}/advance" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.Advance))
	case request.Resource == "/tasks/{taskId}/back" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.Back))
	case request.Resource == "/tasks/{taskId}/survey" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleSubmitSurvey)
	case request.Resource == "/tasks/{taskId}/survey/edit" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.EditSurvey))
	case request.Resource == "/tasks/{taskId}/analysis" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleTriggerAnalysis)
	case request.Resource == "/tasks/{taskId}/retry" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.RetryAnalysis))
	case request.Resource == "/tasks/{taskId}/results" && request.HTTPMethod == "GET":
		return h.withTask(ctx, request, member, h.handleViewResults)
	case request.Resource == "/tasks/{taskId}/accept" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleAccept)
	case request.Resource == "/tasks/{taskId}/dispute" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.Dispute))
	case request.Resource == "/tasks/{taskId}/dispute/reason" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.handleSubmitDispute)
	case request.Resource == "/tasks/{taskId}/dispute/cancel" && request.HTTPMethod == "POST":
		return h.withTask(ctx, request, member, h.transition(h.Service.CancelDispute))
	case request.Resource == "/tasks/{taskId}/steps" && request.HTTPMethod == "GET":
		return h.withTask(ctx, request, member, h.handleListSteps)

	// Master
	case request.Resource == "/quota" && request.HTTPMethod == "GET":
		return h.handleQuota(ctx, member)
	case request.Resource == "/me/stats" && request.HTTPMethod == "GET":
		return h.handleStats(ctx, member)

	default:
		h.Logger.WithFields(logrus.Fields{
			"method":    request.HTTPMethod,
			"resource":  request.Resource,
			"operation": "Handler",
		}).Warn("Endpoint not found")
		return api.ErrorResponse(http.StatusNotFound, "Endpoint not found", h.Logger), nil
	}
}

type taskHandler func(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error)

func (h *Handler) withTask(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, next taskHandler) (events.APIGatewayProxyResponse, error) {
	taskID, err := api.ParseIDParam(request.PathParameters, "taskId")
	if err != nil {
		return api.ErrorResponse(http.StatusBadRequest, err.Error(), h.Logger), nil
	}
	return next(ctx, request, member, taskID)
}

// transition adapts a body-less intent to a route
func (h *Handler) transition(intent func(ctx context.Context, memberID, taskID int64) (*models.Task, error)) taskHandler {
	return func(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
		task, err := intent(ctx, member.MemberID, taskID)
		if err != nil {
			return api.DomainErrorResponse(err, h.Logger), nil
		}
		return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
	}
}

// handleStartTask handles POST /tasks
func (h *Handler) handleStartTask(ctx context.Context, member *models.Member) (events.APIGatewayProxyResponse, error) {
	task, err := h.Service.StartTask(ctx, member)
	if err != nil {
		if errors.Is(err, workflow.ErrTaskInProgress) && task != nil {
			return api.SuccessResponse(http.StatusConflict, map[string]interface{}{
				"error":   true,
				"message": "Finish or cancel the current task first",
				"status":  http.StatusConflict,
				"current": workflow.NewTaskResponse(task),
			}, h.Logger), nil
		}
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusCreated, workflow.NewTaskResponse(task), h.Logger), nil
}

// handleCurrentTask handles GET /tasks/current
func (h *Handler) handleCurrentTask(ctx context.Context, member *models.Member) (events.APIGatewayProxyResponse, error) {
	task, err := h.Service.CurrentTask(ctx, member.MemberID)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			return api.ErrorResponse(http.StatusNotFound, "No unfinished task", h.Logger), nil
		}
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
}

// handleGetTask handles GET /tasks/{taskId}
func (h *Handler) handleGetTask(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	task, err := h.Service.GetTask(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
}

// handleCancel handles DELETE /tasks/{taskId}
func (h *Handler) handleCancel(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	task, err := h.Service.Cancel(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	for _, ref := range append(task.FirstGroupPhotos, task.SecondGroupPhotos...) {
		h.deletePhoto(ctx, taskID, ref)
	}

	return api.NoContentResponse(), nil
}

// handleUploadURL handles POST /tasks/{taskId}/photos/upload-url
func (h *Handler) handleUploadURL(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	var uploadReq models.PhotoUploadURLRequest
	if err := api.ParseJSONBody(request.Body, &uploadReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	if !models.ValidatePhotoFileType(uploadReq.FileName) {
		return api.ErrorResponse(http.StatusBadRequest, "File type not allowed", h.Logger), nil
	}

	task, err := h.Service.GetTask(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	group, ok := workflow.ActiveGroup(task.Status)
	if !ok {
		return api.DomainErrorResponse(&workflow.TransitionError{Action: workflow.ActionAddPhoto, Status: task.Status}, h.Logger), nil
	}

	contentType := uploadReq.ContentType
	if contentType == "" {
		contentType = models.PhotoMimeType(uploadReq.FileName)
	}

	key := models.PhotoObjectKey(task.OrgID, task.TaskID, group, uploadReq.FileName)
	expiry := constants.PHOTO_UPLOAD_URL_EXPIRY * time.Minute
	uploadURL, err := h.Photos.GenerateUploadURL(ctx, key, contentType, expiry)
	if err != nil {
		h.Logger.WithError(err).WithField("task_id", taskID).Error("Failed to generate upload URL")
		return api.ErrorResponse(http.StatusInternalServerError, "Failed to generate upload URL", h.Logger), nil
	}

	return api.SuccessResponse(http.StatusOK, models.PhotoUploadURLResponse{
		PhotoRef:  key,
		UploadURL: uploadURL,
		ExpiresAt: time.Now().Add(expiry).Format(time.RFC3339),
	}, h.Logger), nil
}

// handleAddPhoto handles POST /tasks/{taskId}/photos
func (h *Handler) handleAddPhoto(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	var addReq models.AddPhotoRequest
	if err := api.ParseJSONBody(request.Body, &addReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	task, err := h.Service.GetTask(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	if !models.IsTaskPhoto(addReq.PhotoRef, task.OrgID, task.TaskID) {
		return api.ErrorResponse(http.StatusBadRequest, "Photo was not issued for this task", h.Logger), nil
	}

	exists, err := h.Photos.ObjectExists(ctx, addReq.PhotoRef)
	if err != nil {
		h.Logger.WithError(err).WithField("task_id", taskID).Error("Failed to check photo upload")
		return api.ErrorResponse(http.StatusInternalServerError, "Failed to check photo upload", h.Logger), nil
	}
	if !exists {
		return api.DomainErrorResponse(&workflow.ValidationError{Field: "photo_ref", Message: "photo has not been uploaded"}, h.Logger), nil
	}

	updated, err := h.Service.AddPhoto(ctx, member.MemberID, taskID, addReq.PhotoRef)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(updated), h.Logger), nil
}

// handleRemoveLastPhoto handles DELETE /tasks/{taskId}/photos/last
func (h *Handler) handleRemoveLastPhoto(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	task, removed, err := h.Service.RemoveLastPhoto(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	h.deletePhoto(ctx, taskID, removed)
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
}

// deletePhoto removes a photo object. Failures leave an orphaned object only.
func (h *Handler) deletePhoto(ctx context.Context, taskID int64, ref string) {
	if err := h.Photos.DeleteObject(ctx, ref); err != nil {
		h.Logger.WithFields(logrus.Fields{
			"operation": "deletePhoto",
			"task_id":   taskID,
			"photo_ref": ref,
			"error":     err.Error(),
		}).Warn("Failed to delete photo")
	}
}

// handleSubmitSurvey handles POST /tasks/{taskId}/survey
func (h *Handler) handleSubmitSurvey(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	var surveyReq models.SurveyRequest
	if err := api.ParseJSONBody(request.Body, &surveyReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	task, err := h.Service.SubmitSurvey(ctx, member.MemberID, taskID, surveyReq.Text)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
}

// handleTriggerAnalysis handles POST /tasks/{taskId}/analysis. A failed analysis
// is a normal outcome: the task moves to analysis_failed and the master may retry.
func (h *Handler) handleTriggerAnalysis(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	outcome, err := h.Service.TriggerAnalysis(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	resp := map[string]interface{}{"outcome": outcome}
	if outcome.Task != nil {
		resp["allowed_actions"] = workflow.NewTaskResponse(outcome.Task).AllowedActions
	}
	return api.SuccessResponse(http.StatusOK, resp, h.Logger), nil
}

// handleViewResults handles GET /tasks/{taskId}/results
func (h *Handler) handleViewResults(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	results, err := h.Service.ViewResults(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, results, h.Logger), nil
}

// handleAccept handles POST /tasks/{taskId}/accept
func (h *Handler) handleAccept(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	accepted, err := h.Service.Accept(ctx, member.MemberID, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, accepted, h.Logger), nil
}

// handleSubmitDispute handles POST /tasks/{taskId}/dispute/reason
func (h *Handler) handleSubmitDispute(ctx context.Context, request events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	var disputeReq models.DisputeRequest
	if err := api.ParseJSONBody(request.Body, &disputeReq); err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	task, err := h.Service.SubmitDispute(ctx, member.MemberID, taskID, disputeReq.Reason)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, workflow.NewTaskResponse(task), h.Logger), nil
}

// handleListSteps handles GET /tasks/{taskId}/steps
func (h *Handler) handleListSteps(ctx context.Context, _ events.APIGatewayProxyRequest, member *models.Member, taskID int64) (events.APIGatewayProxyResponse, error) {
	if _, err := h.Service.GetTask(ctx, member.MemberID, taskID); err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}

	steps, err := h.StepLogs.ListStepLogs(ctx, taskID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, map[string]interface{}{
		"task_id": taskID,
		"steps":   steps,
	}, h.Logger), nil
}

// handleQuota handles GET /quota
func (h *Handler) handleQuota(ctx context.Context, member *models.Member) (events.APIGatewayProxyResponse, error) {
	quotaView, err := h.Service.Quota(ctx, member)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, quotaView, h.Logger), nil
}

// handleStats handles GET /me/stats
func (h *Handler) handleStats(ctx context.Context, member *models.Member) (events.APIGatewayProxyResponse, error) {
	stats, err := h.Service.Stats(ctx, member.MemberID)
	if err != nil {
		return api.DomainErrorResponse(err, h.Logger), nil
	}
	return api.SuccessResponse(http.StatusOK, stats, h.Logger), nil
}

func init() {
	isLocal = parseIsLocal()

	// Logger Setup
	logger = setupLogger(isLocal)
}

func main() {
	handler, err := setupHandler(context.Background())
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "main",
			"error":     err.Error(),
		}).Fatal("Error initializing analysis workflow handler")
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

// setupHandler wires SSM configuration, PostgreSQL, S3 and the analysis service
func setupHandler(ctx context.Context) (*Handler, error) {
	ssmClient, err := clients.NewSSMClient(ctx, isLocal)
	if err != nil {
		return nil, err
	}
	ssmRepository := &data.SSMDao{
		SSM:    ssmClient,
		Logger: logger,
	}

	// Retrieve all required configuration parameters from SSM
	ssmParams, err = ssmRepository.GetParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while getting SSM params from parameter store: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"operation":    "setupHandler",
		"params_count": len(ssmParams),
	}).Debug("Retrieved SSM parameters")

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

	bucket := ssmParams[constants.PHOTO_BUCKET]
	if bucket == "" {
		bucket = os.Getenv("BUCKET_NAME")
	}
	if bucket == "" {
		return nil, fmt.Errorf("photo bucket is not configured")
	}
	s3Client, err := clients.NewS3Client(ctx, isLocal, bucket)
	if err != nil {
		return nil, err
	}

	serviceURL := ssmParams[constants.ANALYSIS_SERVICE_URL]
	if serviceURL == "" {
		return nil, fmt.Errorf("analysis service URL is not configured")
	}

	taskRepository := &data.TaskDao{DB: sqlDB, Logger: logger}
	memberRepository := &data.MemberDao{DB: sqlDB, Logger: logger}
	orgRepository := &data.OrgDao{DB: sqlDB, Logger: logger}
	stepLogRepository := &data.StepLogDao{DB: sqlDB, Logger: logger}

	orchestrator := analysis.NewOrchestrator(taskRepository, stepLogRepository,
		analysis.NewHTTPAnalyzer(serviceURL, s3Client, logger), logger)
	orchestrator.StepTimeout = parseStepTimeout(ssmParams[constants.ANALYSIS_STEP_TIMEOUT_SECONDS])

	logger.WithFields(logrus.Fields{
		"operation":    "setupHandler",
		"bucket":       bucket,
		"step_timeout": orchestrator.StepTimeout.String(),
	}).Info("Analysis workflow handler initialized")

	return &Handler{
		Members:  memberRepository,
		StepLogs: stepLogRepository,
		Photos:   s3Client,
		Service: &workflow.Service{
			Tasks:        taskRepository,
			Members:      memberRepository,
			Ledger:       quota.NewLedger(orgRepository, logger),
			Orchestrator: orchestrator,
			Logger:       logger,
		},
		Logger: logger,
	}, nil
}

// parseStepTimeout reads a timeout in seconds, falling back to the default
func parseStepTimeout(raw string) time.Duration {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return constants.DEFAULT_ANALYSIS_STEP_TIMEOUT * time.Second
	}
	return time.Duration(seconds) * time.Second
}
