package httpapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	registrysvc "github.com/R3E-Network/neoguard/internal/app/services/registry"
	"github.com/R3E-Network/neoguard/internal/middleware"
)

func (a *API) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner             string `json:"owner"`
		RecoveryKind      string `json:"recovery_kind"`
		RecoveryAddress   string `json:"recovery_address"`
		RecoveryPublicKey string `json:"recovery_public_key"`
		TimelockSeconds   int64  `json:"timelock_seconds"`
		AuthMode          string `json:"auth_mode"`
		MultiVault        bool   `json:"multi_vault"`
		Bootstrap         bool   `json:"bootstrap"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	rec, v, err := a.app.Registry.Deploy(r.Context(), registrysvc.DeployParams{
		Deployer:          middleware.GetCaller(r.Context()),
		Owner:             payload.Owner,
		RecoveryKind:      vault.SignerKind(payload.RecoveryKind),
		RecoveryAddress:   payload.RecoveryAddress,
		RecoveryPublicKey: payload.RecoveryPublicKey,
		Timelock:          time.Duration(payload.TimelockSeconds) * time.Second,
		AuthMode:          vault.AuthMode(payload.AuthMode),
		MultiVault:        payload.MultiVault,
		Bootstrap:         payload.Bootstrap,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"record": rec,
		"vault":  v,
	})
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		records interface{}
		err     error
	)
	switch {
	case q.Get("owner") != "":
		records, err = a.app.Registry.RecordsByOwner(r.Context(), q.Get("owner"))
	case q.Get("recovery_key") != "":
		records, err = a.app.Registry.RecordsByRecoveryKey(r.Context(), q.Get("recovery_key"))
	default:
		records, err = a.app.Registry.Records(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.app.Registry.Record(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSyncOwner(w http.ResponseWriter, r *http.Request) {
	rec, changed, err := a.app.Registry.SyncOwner(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record":  rec,
		"changed": changed,
	})
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		// Either a raw salt, or a deployer whose salt scheme applies.
		Implementation string  `json:"implementation"`
		Salt           string  `json:"salt"`
		Deployer       string  `json:"deployer"`
		Sequence       *uint64 `json:"sequence"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	var (
		addr string
		err  error
	)
	if payload.Deployer != "" {
		addr, err = a.app.Registry.PredictForDeployer(r.Context(), payload.Deployer, payload.Sequence)
	} else {
		var salt []byte
		salt, err = hex.DecodeString(payload.Salt)
		if err != nil {
			badRequest(w, r, "salt is not valid hex: %v", err)
			return
		}
		addr, err = a.app.Registry.Predict(r.Context(), payload.Implementation, salt)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

func (a *API) handleGetImplementation(w http.ResponseWriter, r *http.Request) {
	impl, err := a.app.Registry.Implementation(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"implementation": impl})
}

func (a *API) handleSetImplementation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Implementation string `json:"implementation"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := a.app.Registry.SetImplementation(r.Context(), caller, payload.Implementation); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"implementation": payload.Implementation})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	changed, err := a.app.Registry.SweepOwners(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}
