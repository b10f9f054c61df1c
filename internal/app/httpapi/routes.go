package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/neoguard/internal/app/metrics"
)

// registerOps mounts the unauthenticated operational endpoints.
func (a *API) registerOps() {
	a.router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	a.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// registerV1 mounts the authenticated API.
func (a *API) registerV1(r *mux.Router) {
	// Vault state and balances
	r.HandleFunc("/vaults", a.handleListVaults).Methods(http.MethodGet)
	r.HandleFunc("/vaults/{address}", a.handleGetVault).Methods(http.MethodGet)
	r.HandleFunc("/vaults/{address}/counter", a.handleGetCounter).Methods(http.MethodGet)
	r.HandleFunc("/vaults/{address}/deposit", a.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{address}/withdraw", a.handleWithdraw).Methods(http.MethodPost)

	// Recovery configuration and lifecycle
	r.HandleFunc("/vaults/{address}/recovery-key", a.handleSetRecoveryKey).Methods(http.MethodPut)
	r.HandleFunc("/vaults/{address}/timelock", a.handleSetTimelock).Methods(http.MethodPut)
	r.HandleFunc("/vaults/{address}/recovery/initiate", a.handleInitiate).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{address}/recovery/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{address}/recovery/execute", a.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{address}/emergency-withdraw", a.handleEmergencyWithdraw).Methods(http.MethodPost)

	// Deployment registry
	r.HandleFunc("/registry/deployments", a.handleDeploy).Methods(http.MethodPost)
	r.HandleFunc("/registry/deployments", a.handleListRecords).Methods(http.MethodGet)
	r.HandleFunc("/registry/deployments/{address}", a.handleGetRecord).Methods(http.MethodGet)
	r.HandleFunc("/registry/deployments/{address}/sync", a.handleSyncOwner).Methods(http.MethodPost)
	r.HandleFunc("/registry/predict", a.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/registry/implementation", a.handleGetImplementation).Methods(http.MethodGet)
	r.HandleFunc("/registry/implementation", a.handleSetImplementation).Methods(http.MethodPut)
	r.HandleFunc("/registry/reconcile", a.handleReconcile).Methods(http.MethodPost)

	// Event history and live stream
	r.HandleFunc("/events", a.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", a.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/vaults/{address}/events", a.handleVaultEvents).Methods(http.MethodGet)
}

// registerRelay mounts the relayer submission endpoints.
func (a *API) registerRelay(r *mux.Router) {
	r.HandleFunc("/emergency-withdraw", a.handleRelayEmergencyWithdraw).Methods(http.MethodPost)
}
