package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"dvetransfer/internal/logging"
	"dvetransfer/internal/services"
)

// Lister is implemented by catalogs that can enumerate their datasets.
type Lister interface {
	ListDatasets(ctx context.Context) ([]string, error)
}

type handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler exposes service over the REST protocol spoken by HTTPClient:
//
//	GET  /datasets
//	GET  /datasets/{nbn}
//	POST /datasets
//	PUT  /datasets/{nbn}/versions/{version}
func NewHandler(service Service, logger *slog.Logger) http.Handler {
	h := &handler{service: service, logger: logging.NewComponentLogger(logger, "catalog-api")}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /datasets", h.handleList)
	mux.HandleFunc("GET /datasets/{nbn}", h.handleGet)
	mux.HandleFunc("POST /datasets", h.handleCreate)
	mux.HandleFunc("PUT /datasets/{nbn}/versions/{version}", h.handleSetVersion)
	return mux
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.service.(Lister)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, errors.New("catalog cannot list datasets"))
		return
	}
	nbns, err := lister.ListDatasets(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if nbns == nil {
		nbns = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"datasets": nbns})
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	dataset, err := h.service.GetDataset(r.Context(), r.PathValue("nbn"))
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, dataset)
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var dataset Dataset
	if err := json.NewDecoder(r.Body).Decode(&dataset); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("decode dataset: %w", services.ErrValidation))
		return
	}
	if err := h.service.CreateDataset(r.Context(), dataset); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusCreated, nil)
}

func (h *handler) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version %q: %w", r.PathValue("version"), services.ErrValidation))
		return
	}
	var export VersionExport
	if err := json.NewDecoder(r.Body).Decode(&export); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("decode version export: %w", services.ErrValidation))
		return
	}
	if export.ObjectVersion == 0 {
		export.ObjectVersion = version
	}
	if export.ObjectVersion != version {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("body version %d does not match path version %d: %w", export.ObjectVersion, version, services.ErrValidation))
		return
	}
	nbn := r.PathValue("nbn")
	export.DatasetNBN = nbn
	if err := h.service.SetVersionExport(r.Context(), nbn, export); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch errorCode(err) {
	case codeNotFound:
		return http.StatusNotFound
	case codeDatasetExists, codeNotSkeleton, codeVersionGap, codeConsistency:
		return http.StatusConflict
	case codeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Warn("catalog request failed",
			logging.String(logging.FieldEventType, "catalog_api_error"),
			logging.Error(err),
		)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Code: errorCode(err)})
}
