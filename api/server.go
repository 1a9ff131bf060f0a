// Package api exposes the batch dispatcher over HTTP: a synchronous batch
// endpoint, run history, and a health check.
package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stellarlinkco/batchinfer/internal/config"
	"github.com/stellarlinkco/batchinfer/internal/generator"
	"github.com/stellarlinkco/batchinfer/internal/store"
)

type Server struct {
	router     *gin.Engine
	store      store.Store
	generators *generator.Registry
	config     *config.Config
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, st store.Store, generators *generator.Registry, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	s := &Server{
		router:     r,
		store:      st,
		generators: generators,
		config:     cfg,
		logger:     logger,
	}
	s.registerMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Run(addr string) error {
	if s == nil || s.router == nil {
		return errors.New("api: nil server")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	return s.router.Run(addr)
}
