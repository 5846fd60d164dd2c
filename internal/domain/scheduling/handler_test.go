package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestHandler_NextSlot(t *testing.T) {
	svc, _ := newTestService(time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC), time.UTC)
	h := NewHandler(svc)

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/slots/next", nil), rec)
	if err := h.NextSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["date"] != "2026-10-20" || got["time"] != "09:00" {
		t.Errorf("unexpected slot %v", got)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	svc, repo := newTestService(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), time.UTC)
	h := NewHandler(svc)
	e := echo.New()
	pid := uuid.New()
	repo.appts[uuid.New()] = &Appointment{PatientID: pid}
	repo.appts[uuid.New()] = &Appointment{PatientID: uuid.New()}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?patient_id="+pid.String(), nil), rec)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Total != 1 {
		t.Errorf("expected 1 appointment, got %d", got.Total)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil), httptest.NewRecorder())
	he, ok := h.ListAppointments(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without patient_id, got %v", he)
	}
}

func TestHandler_GetAppointment_NotFound(t *testing.T) {
	svc, _ := newTestService(time.Now(), time.UTC)
	h := NewHandler(svc)
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	he, ok := h.GetAppointment(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", he)
	}
}
