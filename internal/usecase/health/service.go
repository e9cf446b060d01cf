// Package health reports process and store readiness.
package health

import (
	"context"
	"time"

	"github.com/kailas-cloud/omnidex/internal/store"
)

// Status is the health check payload.
type Status struct {
	OK bool `json:"ok"`
}

// Service checks store reachability.
type Service struct {
	kv store.KV
}

// New creates the health service.
func New(kv store.KV) *Service {
	return &Service{kv: kv}
}

// Check probes the store with a short deadline.
func (s *Service) Check(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.kv.WaitForReady(probeCtx, time.Second)
	return Status{OK: err == nil}
}
