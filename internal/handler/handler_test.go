package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

type stubAttempts struct {
	err      error
	saved    []string
	finished []model.FinalAnswer
}

func (s *stubAttempts) ListForStudent(context.Context, string) ([]service.StudentSubmission, error) {
	return []service.StudentSubmission{}, s.err
}

func (s *stubAttempts) Open(_ context.Context, submissionID, studentID string) (*service.AttemptView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.AttemptView{SubmissionID: submissionID}, nil
}

func (s *stubAttempts) SaveAnswer(_ context.Context, submissionID, studentID, questionID string, resp json.RawMessage, flagged bool) (*model.Answer, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, studentID+"/"+questionID)
	correct := true
	return &model.Answer{QuestionID: questionID, Response: resp, IsCorrect: &correct, Flagged: flagged, UpdatedAt: time.Now()}, nil
}

func (s *stubAttempts) Finish(_ context.Context, submissionID, _ string, final []model.FinalAnswer) (*service.FinalizeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.finished = final
	reason := model.EndReasonSubmitted
	return &service.FinalizeResult{
		Submission: &model.Submission{ID: submissionID, Status: model.SubmissionCompleted, EndReason: &reason, Score: 80},
		Grade:      &engine.GradeSummary{Score: 80},
	}, nil
}

func (s *stubAttempts) Timer(context.Context, string, string) (*service.TimerView, error) {
	return nil, s.err
}

type stubViolations struct{ err error }

func (s stubViolations) ReportViolation(context.Context, string, string, model.ViolationType, json.RawMessage) (*service.ViolationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.ViolationResult{Counted: true, Count: 1, State: model.IntegrityWarned, WarningsLeft: 2}, nil
}

type stubSessions struct{ err error }

func (s stubSessions) ActivateSession(context.Context, string) (*service.ActivationResult, error) {
	return nil, s.err
}

func (s stubSessions) CloseSession(context.Context, string) (*service.BatchResult, error) {
	return nil, s.err
}

func (s stubSessions) FinalizeExpired(context.Context, string) (*service.BatchResult, error) {
	return nil, s.err
}

func (s stubSessions) PublishResults(context.Context, string) (int64, error) {
	return 3, s.err
}

func withClaims(claims *service.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, claims)
		c.Next()
	}
}

func newTestRouter(attempts Attempts, violations Violations, sessions SessionOps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	r := gin.New()

	ah := NewAttemptHandler(attempts, violations, zerolog.Nop())
	student := r.Group("/student", withClaims(&service.Claims{TokenType: service.TokenTypeStudent, UserID: "s1"}))
	student.GET("/submissions/:id", ah.Open)
	student.PUT("/submissions/:id/answers/:question_id", ah.SaveAnswer)
	student.POST("/submissions/:id/violations", ah.ReportViolation)
	student.POST("/submissions/:id/finish", ah.Finish)

	sh := NewSessionHandler(sessions, zerolog.Nop())
	r.POST("/admin/sessions/:id/activate", sh.Activate)
	r.POST("/admin/sessions/:id/publish", sh.Publish)
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestServiceErrorsMapToCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrSubmissionNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrNotSubmissionOwner, http.StatusForbidden, response.ErrNotSubmissionOwner},
		{service.ErrSubmissionFinalized, http.StatusConflict, response.ErrSubmissionFinalized},
		{service.ErrSessionNotOpen, http.StatusConflict, response.ErrSessionNotOpen},
		{fmt.Errorf("wrapped: %w", service.ErrQuestionNotAssigned), http.StatusUnprocessableEntity, response.ErrQuestionNotAssigned},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			r := newTestRouter(&stubAttempts{err: tt.err}, stubViolations{}, stubSessions{})
			w, env := do(r, http.MethodGet, "/student/submissions/sub-1", "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}

func TestSaveAnswerHidesCorrectness(t *testing.T) {
	attempts := &stubAttempts{}
	r := newTestRouter(attempts, stubViolations{}, stubSessions{})

	w, _ := do(r, http.MethodPut, "/student/submissions/sub-1/answers/q1", `{"response":"A","flagged":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("is_correct")) {
		t.Fatalf("correctness leaked: %s", w.Body)
	}
	if len(attempts.saved) != 1 || attempts.saved[0] != "s1/q1" {
		t.Fatalf("saved = %v", attempts.saved)
	}

	w, env := do(r, http.MethodPut, "/student/submissions/sub-1/answers/q1", `{"flagged":true}`)
	if w.Code != http.StatusBadRequest || env.Error.Code != response.ErrValidation {
		t.Fatalf("missing response accepted: %d %+v", w.Code, env.Error)
	}
}

func TestFinishHidesGrade(t *testing.T) {
	attempts := &stubAttempts{}
	r := newTestRouter(attempts, stubViolations{}, stubSessions{})

	w, _ := do(r, http.MethodPost, "/student/submissions/sub-1/finish", `{"answers":[{"question_id":"q2","response":"B"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("score")) {
		t.Fatalf("grade leaked: %s", w.Body)
	}
	if len(attempts.finished) != 1 || attempts.finished[0].QuestionID != "q2" {
		t.Fatalf("final answers = %+v", attempts.finished)
	}

	// An empty body is a plain finish.
	if w, _ := do(r, http.MethodPost, "/student/submissions/sub-1/finish", ""); w.Code != http.StatusOK {
		t.Fatalf("empty finish: %d", w.Code)
	}
}

func TestReportViolationValidatesType(t *testing.T) {
	r := newTestRouter(&stubAttempts{}, stubViolations{}, stubSessions{})

	w, env := do(r, http.MethodPost, "/student/submissions/sub-1/violations", `{"type":"devtools"}`)
	if w.Code != http.StatusBadRequest || env.Error.Fields["type"] == "" {
		t.Fatalf("unknown type accepted: %d %+v", w.Code, env.Error)
	}

	w, _ = do(r, http.MethodPost, "/student/submissions/sub-1/violations", `{"type":"paste","details":{"len":40}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestActivateReportsShortfalls(t *testing.T) {
	err := fmt.Errorf("activate: %w", &engine.InsufficientQuestionsError{Shortfalls: []engine.Shortfall{
		{Type: model.QuestionTypeEssay, Required: 3, Available: 1},
	}})
	r := newTestRouter(&stubAttempts{}, stubViolations{}, stubSessions{err: err})

	w, env := do(r, http.MethodPost, "/admin/sessions/sess-1/activate", "")
	if w.Code != http.StatusUnprocessableEntity || env.Error.Code != response.ErrInsufficientQuestions {
		t.Fatalf("got %d %+v", w.Code, env.Error)
	}
	details, _ := json.Marshal(env.Error.Details)
	if !bytes.Contains(details, []byte(`"required":3`)) {
		t.Fatalf("details = %s", details)
	}
}

func TestPublishReportsCount(t *testing.T) {
	r := newTestRouter(&stubAttempts{}, stubViolations{}, stubSessions{})
	w, env := do(r, http.MethodPost, "/admin/sessions/sess-1/publish", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data, _ := env.Data.(map[string]any)
	if data["published"] != float64(3) {
		t.Fatalf("data = %v", env.Data)
	}
}
