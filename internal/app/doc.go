// Package app composes the NeoGuard services into a running application.
//
// # Architecture Role
//
// The app package sits above the domain packages and is responsible for
// wiring them together with persistence, events, and lifecycle management.
// It is NOT a business logic layer: the recovery state machine lives in
// services/vaults and the deployment registry in services/registry.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── vault/          # Vault, recovery request, derived state
//	│   └── registry/       # Deployment records and ownership indexes
//	├── storage/            # Storage interfaces and implementations
//	│   ├── storage.go      # Store interfaces and sentinel errors
//	│   ├── memory/         # In-memory implementation for tests
//	│   ├── postgres/       # PostgreSQL implementation for production
//	│   └── rediscache/     # Redis read cache over the registry store
//	├── services/
//	│   ├── vaults/         # Recovery state machine and balance paths
//	│   └── registry/       # Deterministic deployment and owner sync
//	├── httpapi/            # REST handlers, websocket event stream
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors fed by domain events
//
// # Dependency Direction
//
//	cmd/neoguardd
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services (business logic)
//	      │           │
//	      │           └──► internal/authorizer, internal/deploy
//	      │
//	      ├──► internal/app/storage (persistence)
//	      │
//	      └──► internal/events (event stream)
//
// Services never import httpapi, metrics, or each other's packages; the
// registry's post-recovery hook is injected through a small interface on
// the vault service.
package app
