package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/middleware"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/services"
)

// maxInstanceSize bounds a single STOW-RS part
const maxInstanceSize = 2 << 30

type StowHandler struct {
	ingest *services.IngestService
	source string
}

func NewStowHandler(ingest *services.IngestService, source string) *StowHandler {
	return &StowHandler{ingest: ingest, source: source}
}

type stowResponse struct {
	Accepted []string `json:"accepted"`
	Failed   []string `json:"failed,omitempty"`
}

// Store handles STOW-RS: a multipart/related POST of application/dicom parts
func (h *StowHandler) Store(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID, _ := middleware.GetCorrelationID(ctx)

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		http.Error(w, "Content-Type must be multipart/related", http.StatusUnsupportedMediaType)
		return
	}
	boundary := params["boundary"]
	if boundary == "" {
		http.Error(w, "Missing multipart boundary", http.StatusBadRequest)
		return
	}

	src := services.IngestSource{
		Name:          h.source,
		CorrelationID: correlationID,
		Service:       models.ServiceTypeDICOMWeb,
	}

	response := stowResponse{}
	reader := multipart.NewReader(r.Body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "Malformed multipart body", http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(io.LimitReader(part, maxInstanceSize))
		part.Close()
		if err != nil {
			http.Error(w, "Failed to read part", http.StatusBadRequest)
			return
		}

		item, err := h.ingest.ReceiveDicom(ctx, src, data)
		if err != nil {
			log.Warn().Err(err).
				Str("correlation_id", correlationID).
				Msg("STOW-RS instance rejected")
			response.Failed = append(response.Failed, err.Error())
			continue
		}
		response.Accepted = append(response.Accepted, item.Dicom.SOPInstanceUID)
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case len(response.Accepted) == 0 && len(response.Failed) > 0:
		w.WriteHeader(http.StatusConflict)
	case len(response.Failed) > 0:
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}
