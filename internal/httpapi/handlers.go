package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ChuLiYu/relay/internal/store"
	"github.com/ChuLiYu/relay/pkg/types"
)

type handler struct {
	store *store.Store
}

type enqueueRequest struct {
	ID          string `json:"id"`
	Timeout     string `json:"timeout"`
	MaxRetries  uint8  `json:"max_retries"`
	PersistData bool   `json:"persist_data"`
	Payload     []byte `json:"payload"`
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// enqueue admits a job into queue. If the request omits an id, the HTTP
// layer assigns one via uuid — the core store never generates ids itself.
func (h *handler) enqueue(c *gin.Context) {
	queue := types.QueueName(c.Param("queue"))

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}

	job := types.Job{
		ID:          types.JobID(id),
		Queue:       queue,
		Timeout:     timeout,
		MaxRetries:  req.MaxRetries,
		PersistData: req.PersistData,
		Payload:     req.Payload,
	}

	if err := h.store.Enqueue(c.Request.Context(), job); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handler) next(c *gin.Context) {
	queue := types.QueueName(c.Param("queue"))

	job, ok := h.store.Next(c.Request.Context(), queue)
	if !ok {
		c.JSON(http.StatusNoContent, nil)
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

type touchRequest struct {
	State []byte `json:"state"`
}

func (h *handler) touch(c *gin.Context) {
	queue := types.QueueName(c.Param("queue"))
	id := types.JobID(c.Param("id"))

	var req touchRequest
	// A body is optional: touch without a checkpoint is common.
	_ = c.ShouldBindJSON(&req)

	if err := h.store.Touch(c.Request.Context(), queue, id, req.State); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handler) complete(c *gin.Context) {
	queue := types.QueueName(c.Param("queue"))
	id := types.JobID(c.Param("id"))

	if err := h.store.Complete(c.Request.Context(), queue, id); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// status reports a pending/in-flight snapshot for every queue that exists,
// for operator dashboards to poll.
func (h *handler) status(c *gin.Context) {
	stats := h.store.Stats()

	out := make(gin.H, len(stats))
	for queue, s := range stats {
		out[string(queue)] = gin.H{"pending": s.Pending, "in_flight": s.InFlight}
	}
	c.JSON(http.StatusOK, gin.H{"queues": out})
}

// reap manually triggers one reap cycle. The driver normally owns the
// ticker that calls this on an interval; this route exists for ops/admin
// use and integration tests.
func (h *handler) reap(c *gin.Context) {
	results := h.store.ReapTimeouts(c.Request.Context())

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		item := gin.H{"job": jobResponse(r.Job)}
		if r.Err != nil {
			item["error"] = r.Err.Error()
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"reaped": out})
}

func jobResponse(job types.Job) gin.H {
	return gin.H{
		"id":           job.ID,
		"queue":        job.Queue,
		"timeout":      job.Timeout.String(),
		"max_retries":  job.MaxRetries,
		"persist_data": job.PersistData,
		"payload":      base64.StdEncoding.EncodeToString(job.Payload),
	}
}

func writeStoreError(c *gin.Context, err error) {
	var exists *store.JobExistsError
	var notFound *store.JobNotFoundError
	switch {
	case errors.As(err, &exists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
