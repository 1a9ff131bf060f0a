package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stellarlinkco/batchinfer/internal/dispatch"
	"github.com/stellarlinkco/batchinfer/internal/generator"
	"github.com/stellarlinkco/batchinfer/internal/store"
)

const maxBatchSize = 1000

type batchRequest struct {
	Provider    string              `json:"provider"`
	Requests    []generator.Request `json:"requests" binding:"required"`
	Rate        *float64            `json:"rate,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
}

type batchOutcome struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	RunID    string         `json:"run_id"`
	Outcomes []batchOutcome `json:"outcomes"`
	Total    int            `json:"total"`
	Success  int            `json:"success"`
	Fail     int            `json:"fail"`
	Retries  int            `json:"retries"`
	WallMs   int64          `json:"wall_ms"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleBatch(c *gin.Context) {
	if s == nil || s.generators == nil || s.config == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Requests) == 0 {
		respondError(c, http.StatusBadRequest, errors.New("empty requests"))
		return
	}
	if len(req.Requests) > maxBatchSize {
		respondError(c, http.StatusBadRequest, fmt.Errorf("batch too large (max %d)", maxBatchSize))
		return
	}

	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = s.config.LLM.DefaultProvider
	}
	gen, ok := s.generators.Get(providerName)
	if !ok {
		respondError(c, http.StatusBadRequest, fmt.Errorf("unknown provider %q", providerName))
		return
	}

	dcfg := s.config.Dispatch
	opts := dispatch.Options{
		Rate:      dcfg.Rate,
		WorkerCap: dcfg.WorkerCap,
		Retry: dispatch.RetryPolicy{
			MaxRetries:        dcfg.MaxRetries,
			BaseDelay:         dcfg.BaseDelay,
			BackoffMultiplier: dcfg.BackoffMultiplier,
			JitterFraction:    dcfg.JitterFraction,
		},
		Params: generator.Params{
			Temperature: dcfg.Temperature,
			TopP:        dcfg.TopP,
			MaxTokens:   dcfg.MaxTokens,
		},
		Timeout: dcfg.Timeout,
		Logger:  s.logger,
	}
	if req.Rate != nil && *req.Rate > 0 {
		opts.Rate = *req.Rate
	}
	if req.Temperature != nil {
		opts.Params.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		opts.Params.TopP = *req.TopP
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		opts.Params.MaxTokens = *req.MaxTokens
	}

	d := dispatch.New(gen, opts)
	res, err := d.Run(c.Request.Context(), req.Requests)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	runID, err := newRunID()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	if s.store != nil {
		rec := &store.RunRecord{
			ID:             runID,
			Provider:       gen.Name(),
			Model:          s.config.LLM.Providers[strings.ToLower(providerName)].Model,
			Total:          res.Stats.Total,
			Success:        res.Stats.Success,
			Fail:           res.Stats.Fail,
			Retries:        res.Stats.Retries,
			TotalLatencyMs: res.Stats.TotalLatency.Milliseconds(),
			WallMs:         res.Wall.Milliseconds(),
			CreatedAt:      time.Now(),
		}
		if err := s.store.SaveRun(c.Request.Context(), rec); err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
	}

	out := batchResponse{
		RunID:    runID,
		Outcomes: make([]batchOutcome, len(res.Outcomes)),
		Total:    res.Stats.Total,
		Success:  res.Stats.Success,
		Fail:     res.Stats.Fail,
		Retries:  res.Stats.Retries,
		WallMs:   res.Wall.Milliseconds(),
	}
	for i, o := range res.Outcomes {
		if o.OK() {
			out.Outcomes[i] = batchOutcome{Text: o.Text}
		} else {
			out.Outcomes[i] = batchOutcome{Error: o.Err.Error()}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	limit := 20
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	rec, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func newRunID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("run_%s_%x", time.Now().UTC().Format("20060102T150405Z"), buf), nil
}
