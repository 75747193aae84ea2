package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mobilemart/pos_backend/models"
	"github.com/mobilemart/pos_backend/utils"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r)
	return r
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{models.ErrBusy, http.StatusServiceUnavailable},
		{models.ErrInsufficientStock, http.StatusConflict},
		{models.ErrInvalidSerial, http.StatusConflict},
		{models.ErrDuplicateSerial, http.StatusConflict},
		{models.ErrInvalidState, http.StatusConflict},
		{models.ErrProductNotFound, http.StatusNotFound},
		{models.ErrReturnNotFound, http.StatusNotFound},
		{utils.ErrorRecordNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tc.err)
		if w.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		if tc.status == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
			t.Errorf("%v: missing Retry-After header", tc.err)
		}
	}
}

// A malformed extra-expense payload is a client error. Silently falling
// back to a plain resolution would drop the fee the client tried to
// attach.
func TestReturnToStockRejectsMalformedBody(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/1/stock", strings.NewReader(`{"amount": `))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d (%s)", w.Code, w.Body.String())
	}

	// A valid JSON body missing required fields is rejected the same way.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/returns/1/stock", strings.NewReader(`{"remark": "repair"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete body: expected 400, got %d (%s)", w.Code, w.Body.String())
	}
}

// An absent body still means "resolve plainly". The request below gets
// past the body handling and fails on the missing acting user instead.
func TestReturnToStockAcceptsEmptyBody(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/1/stock", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "acting user required") {
		t.Fatalf("expected the user check to reject, got %s", w.Body.String())
	}
}
