package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (router *Router) handleListEngines(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	variants, err := mgr.Variants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list engines: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (router *Router) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mgr, ok := router.engineManager(w, r)
		if !ok {
			return
		}
		variantID := chi.URLParam(r, "variantID")
		if err := mgr.SetEnabled(r.Context(), variantID, enabled); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (router *Router) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	variantID := chi.URLParam(r, "variantID")
	if err := mgr.SetDefault(r.Context(), variantID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setKeepWarmRequest struct {
	KeepWarm bool `json:"keepWarm"`
}

func (router *Router) handleSetKeepWarm(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	var req setKeepWarmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	variantID := chi.URLParam(r, "variantID")
	if err := mgr.SetKeepWarm(r.Context(), variantID, req.KeepWarm); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startEngineRequest struct {
	Model string `json:"model"`
}

func (router *Router) handleStartEngine(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	var req startEngineRequest
	_ = decodeJSON(r, &req) // an empty body is accepted: EnsureReady then runs with an empty model name

	variantID := chi.URLParam(r, "variantID")
	if err := mgr.EnsureReady(r.Context(), variantID, req.Model); err != nil {
		writeError(w, http.StatusInternalServerError, "start engine: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) handleStopEngine(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	variantID := chi.URLParam(r, "variantID")
	if err := mgr.Stop(r.Context(), variantID, "user_requested"); err != nil {
		writeError(w, http.StatusInternalServerError, "stop engine: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) handleDiscoverModels(w http.ResponseWriter, r *http.Request) {
	mgr, ok := router.engineManager(w, r)
	if !ok {
		return
	}
	variantID := chi.URLParam(r, "variantID")
	discovered, err := mgr.DiscoverModels(r.Context(), variantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "discover models for "+variantID+": "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, discovered)
}
