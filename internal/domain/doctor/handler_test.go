package doctor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHandler_ListActive(t *testing.T) {
	h := NewHandler(&mockDirectory{doctors: sampleDoctors()})
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/doctors", nil), rec)

	if err := h.ListActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []Doctor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ConsultationFee != 150000 {
		t.Errorf("unexpected doctors %+v", got)
	}
}
