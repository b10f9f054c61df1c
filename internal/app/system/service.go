// Package system manages the lifecycle of long-running application
// components: background reconcilers, archivers, and anything else that
// must start after wiring and stop cleanly on shutdown.
package system

import "context"

// Service is a lifecycle-managed component. Application modules implement
// it so the manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for modules that have no background work
// but should still appear in the lifecycle registry.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                  { return s.ServiceName }
func (s NoopService) Start(_ context.Context) error { return nil }
func (s NoopService) Stop(_ context.Context) error  { return nil }
