package services

import (
	"context"

	"github.com/baraholka/api/internal/repositories"
)

// SystemServiceDeps bundles dependencies required to construct a SystemService implementation.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
}

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService wires a SystemService backed by the provided repositories.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, ErrRepositoriesMissing
	}
	return &systemService{health: deps.Health}, nil
}

func (s *systemService) Health(ctx context.Context) error {
	return s.health.Check(ctx)
}
