// Package api serves scoring over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/internal/version"
	"github.com/samcharles93/cappr/pkg/cappr"
)

// ScorerProvider hands out the scorer for a model id. Calls for one model
// must not overlap.
type ScorerProvider interface {
	With(ctx context.Context, modelID string, fn func(cappr.Scorer) error) error
	ListModels() ([]string, error)
}

type Server struct {
	scorers ScorerProvider
	clock   func() time.Time
	newID   func() string
}

func NewServer(scorers ScorerProvider) *Server {
	return &Server{
		scorers: scorers,
		clock:   time.Now,
		newID:   uuid.NewString,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/predict_proba", s.handlePredictProba)
	e.POST("/v1/logprobs", s.handleLogprobs)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
	metrics := promhttp.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	models, err := s.scorers.ListModels()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	data := make([]map[string]any, 0, len(models))
	for _, id := range models {
		data = append(data, map[string]any{
			"id":     id,
			"object": "model",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handlePredictProba(c *echo.Context) error {
	req, err := decodeJSON[PredictProbaRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := req.Validate(); err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := s.newID()
	ctx := logger.WithContext(c.Request().Context(), logger.FromContext(c.Request().Context()).With("request_id", id))
	resp := PredictProbaResponse{
		ID:      id,
		Object:  "predict_proba",
		Created: s.clock().Unix(),
		Model:   req.Model,
	}
	err = s.scorers.With(ctx, req.Model, func(scorer cappr.Scorer) error {
		var (
			proba       *cappr.Probabilities
			completions func(i int) []string
			err         error
		)
		if len(req.Examples) > 0 {
			examples := make([]cappr.Example, len(req.Examples))
			for i, in := range req.Examples {
				ex, err := in.Example()
				if err != nil {
					return newInvalidRequest(fmt.Sprintf("examples[%d]: %v", i, err))
				}
				examples[i] = ex
			}
			proba, err = cappr.PredictProbaExamples(ctx, scorer, examples, req.options()...)
			completions = func(i int) []string { return req.Examples[i].Completions }
		} else {
			var prompts []string
			if prompts, err = cappr.ToTexts(req.Prompts); err != nil {
				return newInvalidRequest(fmt.Sprintf("prompts: %v", err))
			}
			proba, err = cappr.PredictProba(ctx, scorer, prompts, req.Completions, req.options()...)
			completions = func(int) []string { return req.Completions }
		}
		if err != nil {
			return err
		}
		resp.Probabilities = proba.Rows()
		for i, j := range proba.Argmax() {
			resp.Predictions = append(resp.Predictions, completions(i)[j])
		}
		return nil
	})
	if err != nil {
		return writeScoringError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogprobs(c *echo.Context) error {
	req, err := decodeJSON[LogprobsRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := req.Validate(); err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := s.newID()
	ctx := logger.WithContext(c.Request().Context(), logger.FromContext(c.Request().Context()).With("request_id", id))
	resp := LogprobsResponse{
		ID:      id,
		Object:  "logprobs",
		Created: s.clock().Unix(),
		Model:   req.Model,
	}
	err = s.scorers.With(ctx, req.Model, func(scorer cappr.Scorer) error {
		if len(req.Completions) > 0 {
			prompts, err := cappr.ToTexts(req.Prompts)
			if err != nil {
				return newInvalidRequest(fmt.Sprintf("prompts: %v", err))
			}
			lps, err := cappr.LogProbsConditional(ctx, scorer, prompts, req.Completions, req.options()...)
			if err != nil {
				return err
			}
			out := make([][][]*float64, len(lps))
			for i, row := range lps {
				out[i] = nullable(row)
			}
			resp.LogProbs = out
			return nil
		}
		texts, err := cappr.ToTexts(req.Texts)
		if err != nil {
			return newInvalidRequest(fmt.Sprintf("texts: %v", err))
		}
		lps, err := cappr.TokenLogprobs(ctx, scorer, texts, req.options()...)
		if err != nil {
			return err
		}
		resp.LogProbs = nullable(lps)
		return nil
	})
	if err != nil {
		return writeScoringError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
