package httpapi

import (
	"net/http"

	"github.com/R3E-Network/neoguard/internal/middleware"
)

// handleRelayEmergencyWithdraw accepts a signature-authorized emergency
// withdrawal submitted by a relayer on a guardian's behalf. The signature
// inside the token authorizes the drain; the relayer only provides
// transport and is recorded as the submitting actor.
func (a *API) handleRelayEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Vault string `json:"vault"`
		emergencyWithdrawPayload
	}
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, r, "invalid request body: %v", err)
		return
	}
	if payload.Vault == "" {
		badRequest(w, r, "vault is required")
		return
	}

	caller := "relayer:" + middleware.GetRelayerID(r.Context())
	params, err := payload.params(caller)
	if err != nil {
		badRequest(w, r, "token is not valid hex: %v", err)
		return
	}

	v, err := a.app.Vaults.EmergencyWithdraw(r.Context(), payload.Vault, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
