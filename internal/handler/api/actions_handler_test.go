package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"failedjobs/internal/config"
	"failedjobs/internal/dispatcher"
	"failedjobs/internal/models"
	"failedjobs/internal/registry"
	"failedjobs/internal/repository"
)

func newActionsHandler(t *testing.T) (*ActionsHandler, *repository.ActionRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.FailedJobAction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"shop": {Name: "Shop"},
		},
	}
	reg := registry.New(cfg, zap.NewNop())
	actions := repository.NewActionRepository(db, "")
	d := dispatcher.New(reg, actions, zap.NewNop())
	return NewActionsHandler(d, actions, zap.NewNop()), actions
}

func postJSON(t *testing.T, h echo.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestDispatchQueuesAction(t *testing.T) {
	h, actions := newActionsHandler(t)

	rec := postJSON(t, h.Dispatch, "/api/actions",
		`{"project":"shop","action":"retry-jobs","jobs":[{"id":"7"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Status || resp.Msg != "Action queued" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	due, err := actions.ListDue("", 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].Action != models.ActionRetryJobs {
		t.Fatalf("expected one queued record, got %+v", due)
	}
}

func TestDispatchRejectsUnknownProject(t *testing.T) {
	h, _ := newActionsHandler(t)

	rec := postJSON(t, h.Dispatch, "/api/actions",
		`{"project":"ghost","action":"prune","hours":48}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status || !strings.Contains(resp.Msg, "ghost") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatchRejectsInvalidAction(t *testing.T) {
	h, _ := newActionsHandler(t)

	rec := postJSON(t, h.Dispatch, "/api/actions",
		`{"project":"shop","action":"explode"}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRequeueOnlyFailedActions(t *testing.T) {
	h, actions := newActionsHandler(t)

	action := &models.FailedJobAction{
		Project: "shop", Action: models.ActionPrune, Payload: "{}",
		Status: models.ActionStatusPending,
	}
	if err := actions.Create(action); err != nil {
		t.Fatalf("create: %v", err)
	}

	requeue := func() *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath("/api/actions/:id/requeue")
		c.SetParamNames("id")
		c.SetParamValues(strconv.Itoa(int(action.ID)))
		if err := h.Requeue(c); err != nil {
			t.Fatalf("requeue handler: %v", err)
		}
		return rec
	}

	if rec := requeue(); rec.Code != http.StatusConflict {
		t.Fatalf("pending record must not requeue, got %d", rec.Code)
	}

	if _, err := actions.Claim(action.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := actions.Fail(action.ID, "runtime in executor: boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if rec := requeue(); rec.Code != http.StatusOK {
		t.Fatalf("failed record should requeue, got %d", rec.Code)
	}
}
