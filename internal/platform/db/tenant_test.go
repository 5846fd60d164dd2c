package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractFacilityID(t *testing.T) {
	c := newContext("/?facility_id=query_clinic")
	c.Request().Header.Set(FacilityHeader, "header_clinic")
	c.Set("jwt_facility_id", "jwt_clinic")

	if fid := extractFacilityID(c, "default"); fid != "jwt_clinic" {
		t.Errorf("expected jwt_clinic (highest priority), got %s", fid)
	}

	c.Set("jwt_facility_id", "")
	if fid := extractFacilityID(c, "default"); fid != "header_clinic" {
		t.Errorf("expected header_clinic when claim is empty, got %s", fid)
	}

	c = newContext("/?facility_id=query_clinic")
	if fid := extractFacilityID(c, "default"); fid != "query_clinic" {
		t.Errorf("expected query_clinic, got %s", fid)
	}

	c = newContext("/")
	if fid := extractFacilityID(c, "default"); fid != "default" {
		t.Errorf("expected default, got %s", fid)
	}
}

func TestFacilityIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"clinic_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := facilityIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("facilityIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("north"); got != "facility_north" {
		t.Errorf("expected facility_north, got %s", got)
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestFacilityFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), FacilityIDKey, "north")
	if fid := FacilityFromContext(ctx); fid != "north" {
		t.Errorf("expected north, got %s", fid)
	}
	if fid := FacilityFromContext(context.Background()); fid != "" {
		t.Errorf("expected empty string, got %s", fid)
	}
}

func TestCreateFacilitySchema_InvalidID(t *testing.T) {
	for _, id := range []string{"clinic-with-dash", "clinic.dot", "cli nic", "drop;table"} {
		if err := CreateFacilitySchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid facility ID %q", id)
		}
	}
}

func TestBegin_NoConnection(t *testing.T) {
	_, err := Begin(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error when no connection is available")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}
