package main

import (
	"context"
	"encoding/json"
	"errors"
	"manicure/lib/analysis"
	"manicure/lib/data/datatest"
	"manicure/lib/models"
	"manicure/lib/quota"
	"manicure/lib/workflow"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhotoStore struct {
	mu       sync.Mutex
	uploaded map[string]bool
	deleted  []string
}

func (s *fakePhotoStore) GenerateUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return "https://photos.example.com/" + key + "?upload", nil
}

func (s *fakePhotoStore) GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://photos.example.com/" + key, nil
}

func (s *fakePhotoStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakePhotoStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded[key], nil
}

type fakeAnalyzer struct {
	failSynthesis bool
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, kind models.AnalysisKind, photoRefs []string, contextText string) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"ok","summary_text":"healthy cuticles","score":8,"recommendations":["oil daily"]}`), nil
}

func (a *fakeAnalyzer) Synthesize(ctx context.Context, first, second *models.AnalysisResult, contextText string) (json.RawMessage, error) {
	if a.failSynthesis {
		return nil, errors.New("service unavailable")
	}
	return json.RawMessage(`{"status":"ok","summary_text":"overall good","score":7.5,"recommendations":["short almond shape"]}`), nil
}

type testEnv struct {
	handler  *Handler
	tasks    *datatest.Tasks
	orgs     *datatest.Orgs
	photos   *fakePhotoStore
	analyzer *fakeAnalyzer
}

func newTestEnv(limit, used int) *testEnv {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tasks := datatest.NewTasks()
	orgs := datatest.NewOrgs(models.Organization{OrgID: 3, Name: "Nail Studio", QuotaLimit: limit, QuotaUsed: used})
	members := datatest.NewMembers(tasks,
		models.Member{MemberID: 7, OrgID: 3, DisplayName: "Anna", ExternalIdentity: "tg:1001"},
		models.Member{MemberID: 8, OrgID: 3, DisplayName: "Olga", ExternalIdentity: "tg:1002"},
	)
	tasks.Orgs = orgs
	tasks.Members = members
	stepLogs := &datatest.StepLogs{Tasks: tasks}
	photos := &fakePhotoStore{uploaded: map[string]bool{}}
	analyzer := &fakeAnalyzer{}

	return &testEnv{
		handler: &Handler{
			Members:  members,
			StepLogs: stepLogs,
			Photos:   photos,
			Service: &workflow.Service{
				Tasks:        tasks,
				Members:      members,
				Ledger:       quota.NewLedger(orgs, log),
				Orchestrator: analysis.NewOrchestrator(tasks, stepLogs, analyzer, log),
				Logger:       log,
			},
			Logger: log,
		},
		tasks:    tasks,
		orgs:     orgs,
		photos:   photos,
		analyzer: analyzer,
	}
}

func (e *testEnv) call(t *testing.T, subject, method, resource string, taskID string, body string) (events.APIGatewayProxyResponse, map[string]interface{}) {
	t.Helper()
	request := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Resource:   resource,
		Body:       body,
		RequestContext: events.APIGatewayProxyRequestContext{
			Authorizer: map[string]interface{}{
				"claims": map[string]interface{}{"sub": subject},
			},
		},
	}
	if taskID != "" {
		request.PathParameters = map[string]string{"taskId": taskID}
	}

	resp, err := e.handler.Handle(context.Background(), request)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if resp.Body != "" {
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &decoded))
	}
	return resp, decoded
}

// uploadPhoto requests an upload URL, marks the object uploaded and attaches it
func (e *testEnv) uploadPhoto(t *testing.T, taskID, fileName string) string {
	t.Helper()
	resp, body := e.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos/upload-url", taskID, `{"file_name":"`+fileName+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	ref := body["photo_ref"].(string)

	e.photos.mu.Lock()
	e.photos.uploaded[ref] = true
	e.photos.mu.Unlock()

	resp, _ = e.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos", taskID, `{"photo_ref":"`+ref+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	return ref
}

func taskField(body map[string]interface{}, field string) interface{} {
	return body["task"].(map[string]interface{})[field]
}

func TestHandler_Authentication(t *testing.T) {
	env := newTestEnv(5, 0)

	t.Run("missing claims", func(t *testing.T) {
		resp, err := env.handler.Handle(context.Background(), events.APIGatewayProxyRequest{
			HTTPMethod: "POST",
			Resource:   "/tasks",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown identity", func(t *testing.T) {
		resp, _ := env.call(t, "tg:9999", "POST", "/tasks", "", "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, _ := env.call(t, "tg:1001", "PATCH", "/tasks", "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandler_FullWorkflow(t *testing.T) {
	env := newTestEnv(5, 0)

	resp, body := env.call(t, "tg:1001", "POST", "/tasks", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.Equal(t, "started", taskField(body, "status"))
	taskID := "1"

	first := env.uploadPhoto(t, taskID, "left.jpg")
	assert.True(t, strings.HasPrefix(first, "3/tasks/1/first/"))

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/advance", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "collecting_second", taskField(body, "status"))

	second := env.uploadPhoto(t, taskID, "right.png")
	assert.True(t, strings.HasPrefix(second, "3/tasks/1/second/"))

	resp, _ = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/advance", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/survey", taskID, `{"text":"client wants shorter nails"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "ready_for_analysis", taskField(body, "status"))

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/analysis", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	outcome := body["outcome"].(map[string]interface{})
	assert.Equal(t, "succeeded", outcome["status"])

	resp, body = env.call(t, "tg:1001", "GET", "/tasks/{taskId}/results", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "overall good", body["aggregate_result"].(map[string]interface{})["summary_text"])

	resp, body = env.call(t, "tg:1001", "GET", "/tasks/{taskId}/steps", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Len(t, body["steps"], 3)

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/accept", taskID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, float64(4), body["quota_remaining"])
	assert.Equal(t, 1, env.orgs.Peek(3).QuotaUsed)

	resp, _ = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/accept", taskID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1, env.orgs.Peek(3).QuotaUsed)

	resp, body = env.call(t, "tg:1001", "GET", "/me/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, float64(1), body["finalized_tasks"])

	resp, body = env.call(t, "tg:1001", "GET", "/quota", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, float64(4), body["remaining"])
}

func TestHandler_StartTask(t *testing.T) {
	t.Run("exhausted quota", func(t *testing.T) {
		env := newTestEnv(2, 2)

		resp, body := env.call(t, "tg:1001", "POST", "/tasks", "", "")

		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		assert.Equal(t, float64(0), body["remaining"])
	})

	t.Run("unfinished task is returned for resume", func(t *testing.T) {
		env := newTestEnv(5, 0)
		resp, _ := env.call(t, "tg:1001", "POST", "/tasks", "", "")
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, body := env.call(t, "tg:1001", "POST", "/tasks", "", "")

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		current := body["current"].(map[string]interface{})
		assert.Equal(t, float64(1), current["task"].(map[string]interface{})["task_id"])

		resp, body = env.call(t, "tg:1001", "GET", "/tasks/current", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), taskField(body, "task_id"))
	})

	t.Run("no unfinished task", func(t *testing.T) {
		env := newTestEnv(5, 0)

		resp, _ := env.call(t, "tg:1001", "GET", "/tasks/current", "", "")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandler_Photos(t *testing.T) {
	env := newTestEnv(5, 0)
	resp, _ := env.call(t, "tg:1001", "POST", "/tasks", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("file type not allowed", func(t *testing.T) {
		resp, _ := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos/upload-url", "1", `{"file_name":"notes.pdf"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("photo not uploaded yet", func(t *testing.T) {
		resp, body := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos/upload-url", "1", `{"file_name":"a.jpg"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos", "1", `{"photo_ref":"`+body["photo_ref"].(string)+`"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("reference of another task", func(t *testing.T) {
		resp, _ := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos", "1", `{"photo_ref":"3/tasks/2/first/x.jpg"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing photo_ref", func(t *testing.T) {
		resp, body := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/photos", "1", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["validation"], "photo_ref is required")
	})

	t.Run("remove last deletes the object", func(t *testing.T) {
		ref := env.uploadPhoto(t, "1", "a.jpg")

		resp, body := env.call(t, "tg:1001", "DELETE", "/tasks/{taskId}/photos/last", "1", "")

		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
		assert.Empty(t, taskField(body, "first_group_photos"))
		assert.Contains(t, env.photos.deleted, ref)
	})

	t.Run("advance without photos", func(t *testing.T) {
		resp, body := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/advance", "1", "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "photos", body["field"])
	})
}

func TestHandler_AnalysisFailureAndRetry(t *testing.T) {
	env := newTestEnv(5, 0)
	survey := "client wants shorter nails"
	env.tasks.Put(&models.Task{
		MemberID:          7,
		OrgID:             3,
		FirstGroupPhotos:  []string{"3/tasks/1/first/a.jpg"},
		SecondGroupPhotos: []string{"3/tasks/1/second/b.jpg"},
		SurveyText:        &survey,
		Status:            models.TaskStatusReadyForAnalysis,
	})
	env.analyzer.failSynthesis = true

	resp, body := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/analysis", "1", "")

	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	outcome := body["outcome"].(map[string]interface{})
	assert.Equal(t, "failed", outcome["status"])
	assert.Equal(t, "synthesis", outcome["failed_step"])
	assert.Equal(t, []interface{}{"retry", "cancel"}, body["allowed_actions"])

	resp, _ = env.call(t, "tg:1001", "GET", "/tasks/{taskId}/results", "1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/retry", "1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "ready_for_analysis", taskField(body, "status"))
	assert.Equal(t, 0, env.orgs.Peek(3).QuotaUsed)
}

func TestHandler_Dispute(t *testing.T) {
	env := newTestEnv(5, 0)
	env.tasks.Put(&models.Task{MemberID: 7, OrgID: 3, Status: models.TaskStatusAnalysisComplete})

	resp, body := env.call(t, "tg:1001", "POST", "/tasks/{taskId}/dispute", "1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "disputing", taskField(body, "status"))

	resp, _ = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/dispute/reason", "1", `{"reason":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = env.call(t, "tg:1001", "POST", "/tasks/{taskId}/dispute/reason", "1", `{"reason":"wrong hand shape"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "disputed", taskField(body, "status"))
	assert.Equal(t, 0, env.orgs.Peek(3).QuotaUsed)
}

func TestHandler_TaskOwnershipAndReset(t *testing.T) {
	env := newTestEnv(5, 0)
	env.tasks.Put(&models.Task{MemberID: 7, OrgID: 3, Status: models.TaskStatusStarted})

	resp, _ := env.call(t, "tg:1002", "GET", "/tasks/{taskId}", "1", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.call(t, "tg:1001", "GET", "/tasks/{taskId}", "42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, true, body["workflow_reset"])

	resp, _ = env.call(t, "tg:1001", "GET", "/tasks/{taskId}", "abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Cancel(t *testing.T) {
	env := newTestEnv(5, 0)
	env.tasks.Put(&models.Task{
		MemberID:          7,
		OrgID:             3,
		FirstGroupPhotos:  []string{"3/tasks/1/first/a.jpg"},
		SecondGroupPhotos: []string{"3/tasks/1/second/b.jpg"},
		Status:            models.TaskStatusAwaitingSurvey,
	})

	resp, _ := env.call(t, "tg:1001", "DELETE", "/tasks/{taskId}", "1", "")

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := env.tasks.Peek(1)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"3/tasks/1/first/a.jpg", "3/tasks/1/second/b.jpg"}, env.photos.deleted)

	resp, body := env.call(t, "tg:1001", "DELETE", "/tasks/{taskId}", "1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, true, body["workflow_reset"])
	assert.Len(t, env.photos.deleted, 2)
}

func TestParseStepTimeout(t *testing.T) {
	assert.Equal(t, 45*time.Second, parseStepTimeout("45"))
	assert.Equal(t, 60*time.Second, parseStepTimeout(""))
	assert.Equal(t, 60*time.Second, parseStepTimeout("-3"))
}
