package httpapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/neoguard/internal/app/domain/vault"
	vaultsvc "github.com/R3E-Network/neoguard/internal/app/services/vaults"
	"github.com/R3E-Network/neoguard/internal/middleware"
)

func (a *API) handleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := a.app.Vaults.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaults)
}

func (a *API) handleGetVault(w http.ResponseWriter, r *http.Request) {
	v, err := a.app.Vaults.Get(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vault": v,
		"state": a.app.Vaults.State(v),
	})
}

// handleGetCounter returns the vault's emergency-withdrawal counter on its
// own. Signers need it to build a token without fetching the whole vault.
func (a *API) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	v, err := a.app.Vaults.Get(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counter": v.Counter})
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.Deposit(r.Context(), mux.Vars(r)["address"], caller, payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.Withdraw(r.Context(), mux.Vars(r)["address"], caller, payload.To, payload.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleSetRecoveryKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind      string `json:"kind"`
		Address   string `json:"address"`
		PublicKey string `json:"public_key"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.SetRecoveryKey(r.Context(), mux.Vars(r)["address"], caller, vaultsvc.RecoveryKeyUpdate{
		Kind:      vault.SignerKind(payload.Kind),
		Address:   payload.Address,
		PublicKey: payload.PublicKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleSetTimelock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TimelockSeconds int64 `json:"timelock_seconds"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.SetTimelock(r.Context(), mux.Vars(r)["address"], caller, time.Duration(payload.TimelockSeconds)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.Initiate(r.Context(), mux.Vars(r)["address"], caller, payload.NewOwner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.Cancel(r.Context(), mux.Vars(r)["address"], caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	v, err := a.app.Vaults.Execute(r.Context(), mux.Vars(r)["address"], caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type emergencyWithdrawPayload struct {
	To      string `json:"to"`
	Amount  int64  `json:"amount"`
	Counter uint64 `json:"counter"`
	// Token is the hex-encoded recovery-key signature. Only read on
	// signature-mode vaults.
	Token string `json:"token"`
}

func (p emergencyWithdrawPayload) params(caller string) (vaultsvc.EmergencyWithdrawParams, error) {
	token, err := hex.DecodeString(p.Token)
	if err != nil {
		return vaultsvc.EmergencyWithdrawParams{}, err
	}
	return vaultsvc.EmergencyWithdrawParams{
		Caller:  caller,
		To:      p.To,
		Amount:  p.Amount,
		Counter: p.Counter,
		Token:   token,
	}, nil
}

func (a *API) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload emergencyWithdrawPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}

	params, err := payload.params(middleware.GetCaller(r.Context()))
	if err != nil {
		badRequest(w, r, "token is not valid hex: %v", err)
		return
	}

	v, err := a.app.Vaults.EmergencyWithdraw(r.Context(), mux.Vars(r)["address"], params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
