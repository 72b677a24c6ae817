package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

func bindBody(t *testing.T, body string, dst interface{}) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBindViolationType(t *testing.T) {
	Setup()

	var ok model.ReportViolationRequest
	if fields := bindBody(t, `{"type":"tab_switch"}`, &ok); fields != nil {
		t.Fatalf("valid request rejected: %v", fields)
	}

	var bad model.ReportViolationRequest
	fields := bindBody(t, `{"type":"sneeze"}`, &bad)
	if fields == nil || fields["type"] == "" {
		t.Fatalf("expected a field error on type, got %v", fields)
	}
}

func TestBindManualGradesDives(t *testing.T) {
	Setup()

	var req model.ApplyManualGradesRequest
	fields := bindBody(t, `{"updates":[{"answer_id":"","score":1}]}`, &req)
	if fields == nil {
		t.Fatal("missing answer_id should fail validation")
	}

	fields = bindBody(t, `{"updates":[]}`, &req)
	if fields == nil || fields["updates"] == "" {
		t.Fatalf("empty updates should fail, got %v", fields)
	}
}

func TestBindMalformedJSON(t *testing.T) {
	Setup()

	var req model.SaveAnswerRequest
	fields := bindBody(t, `{"response":`, &req)
	if fields["detail"] == "" {
		t.Fatalf("expected detail for syntax error, got %v", fields)
	}
}
