package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(context.Background(), backing.NewNoop())
	require.NoError(t, err)

	return NewRouter(st, Config{})
}

func TestEnqueueAssignsIDWhenOmitted(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequest{Timeout: "10s", MaxRetries: 1})
	req := httptest.NewRequest(http.MethodPost, "/queues/a/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])
}

func TestEnqueueDuplicateReturnsConflict(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequest{ID: "dup"})
	req1 := httptest.NewRequest(http.MethodPost, "/queues/a/jobs", bytes.NewReader(body))
	req1.Header.Set("Content-Type", "application/json")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/queues/a/jobs", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestNextOnEmptyQueueReturnsNoContent(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/queues/empty/next", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusReportsQueueDepth(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequest{ID: "1"})
	req := httptest.NewRequest(http.MethodPost, "/queues/a/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queues map[string]struct {
			Pending  int `json:"pending"`
			InFlight int `json:"in_flight"`
		} `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Queues["a"].Pending)
	require.Equal(t, 0, resp.Queues["a"].InFlight)
}

func TestEnqueueNextCompleteFlow(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequest{ID: "1"})
	req := httptest.NewRequest(http.MethodPost, "/queues/a/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queues/a/next", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queues/a/jobs/1/complete", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queues/a/jobs/1/complete", nil))
	require.Equal(t, http.StatusOK, rec.Code, "complete is idempotent")
}
