package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

type ManagementHandler struct {
	registry     *plugins.Registry
	payloads     repository.PayloadRepository
	associations repository.AssociationRepository
}

func NewManagementHandler(registry *plugins.Registry, payloads repository.PayloadRepository, associations repository.AssociationRepository) *ManagementHandler {
	return &ManagementHandler{
		registry:     registry,
		payloads:     payloads,
		associations: associations,
	}
}

// ListPlugIns returns the registered plug-in names with their descriptions
func (h *ManagementHandler) ListPlugIns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.registry.RegisteredPlugIns())
}

// ListPayloads returns all payloads currently held by the gateway, optionally
// filtered by grouping key
func (h *ManagementHandler) ListPayloads(w http.ResponseWriter, r *http.Request) {
	var (
		payloads []models.Payload
		err      error
	)
	if key := r.URL.Query().Get("key"); key != "" {
		payloads, err = h.payloads.GetByKey(r.Context(), key)
	} else {
		payloads, err = h.payloads.List(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list payloads")
		http.Error(w, "Failed to list payloads", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payloads)
}

// ListAssociations returns recorded inbound associations
func (h *ManagementHandler) ListAssociations(w http.ResponseWriter, r *http.Request) {
	associations, err := h.associations.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list associations")
		http.Error(w, "Failed to list associations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(associations)
}
