package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	ID     string  `param:"id" validate:"required"`
	Kind   string  `json:"indicator_type" validate:"required,oneof=RSI MACD"`
	Weight float64 `json:"weight" default:"1" validate:"gte=0"`
	Limit  int     `query:"limit" default:"20" validate:"lte=50"`
}

func bindSample(t *testing.T, target, body string) (*sampleRequest, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("rsi_1")

	out := &sampleRequest{}
	return out, ReadAndValidateRequest(c, out)
}

func TestReadAndValidateFillsDefaults(t *testing.T) {
	req, verr := bindSample(t, "/x/rsi_1", `{"indicator_type":"RSI"}`)
	if verr != nil {
		t.Fatalf("unexpected errors %+v", verr)
	}
	if req.ID != "rsi_1" || req.Weight != 1 || req.Limit != 20 {
		t.Fatalf("unexpected bind %+v", req)
	}
}

func TestReadAndValidateReportsClientFieldNames(t *testing.T) {
	_, verr := bindSample(t, "/x/rsi_1", `{"indicator_type":"VWAP","weight":-2}`)
	if len(verr) != 2 {
		t.Fatalf("expected 2 errors, got %+v", verr)
	}
	byField := map[string]ValidationError{}
	for _, v := range verr {
		byField[v.Field] = v
	}
	if e, ok := byField["indicator_type"]; !ok || e.Code != "ERR_ONEOF" || e.Message != "indicator_type must be one of: RSI, MACD" {
		t.Fatalf("unexpected oneof error %+v", verr)
	}
	if e, ok := byField["weight"]; !ok || e.Code != "ERR_GTE" || e.Params["min"] != "0" {
		t.Fatalf("unexpected gte error %+v", verr)
	}
}

func TestReadAndValidateMalformedBody(t *testing.T) {
	_, verr := bindSample(t, "/x/rsi_1", `{"indicator_type":`)
	if len(verr) != 1 || verr[0].Code != "ERR_BIND" {
		t.Fatalf("expected bind error, got %+v", verr)
	}
}
