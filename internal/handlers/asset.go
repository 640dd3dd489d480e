package handlers

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trendly/apiserver/internal/services"
	"github.com/trendly/apiserver/types"
	"go.uber.org/zap"
)

const (
	defaultPage        = 1
	defaultLimit       = 20
	maxLimit           = 100
	maxPage            = math.MaxInt32 / maxLimit
	maxMultipartMemory = 32 << 20
	formFieldFile      = "file"
	formFieldKind      = "kind"
)

// AssetHandler provides HTTP handlers for creator media.
type AssetHandler struct {
	assetService *services.AssetService
	logger       *zap.Logger
}

func NewAssetHandler(assetService *services.AssetService, logger *zap.Logger) *AssetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetHandler{
		assetService: assetService,
		logger:       logger,
	}
}

// AssetRouter registers asset routes on the given router. Every route requires a session.
func AssetRouter(
	r chi.Router,
	assetService *services.AssetService,
	authMiddleware func(http.Handler) http.Handler,
	logger *zap.Logger,
) {
	handler := NewAssetHandler(assetService, logger)

	r.Use(authMiddleware)
	r.Get("/", handler.ListAssets)
	r.Post("/", handler.UploadAsset)
	r.Route("/{assetID}", func(r chi.Router) {
		r.Get("/content", handler.GetAssetContent)
		r.Delete("/", handler.DeleteAsset)
	})
}

type AssetListResponse struct {
	Items []types.Asset `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.assetService.List(r.Context(), identity.UserID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	if items == nil {
		items = []types.Asset{}
	}

	writeJSON(w, http.StatusOK, AssetListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *AssetHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upload, err := parseAssetForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := h.assetService.Upload(r.Context(), identity.UserID, upload)
	if err != nil {
		h.writeServiceError(w, err, "failed to upload asset")
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (h *AssetHandler) GetAssetContent(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseAssetID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, body, err := h.assetService.Open(r.Context(), identity.UserID, id)
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch asset")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", asset.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream asset", zap.String("asset_id", asset.ID), zap.Error(err))
	}
}

func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseAssetID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.assetService.Delete(r.Context(), identity.UserID, id); err != nil {
		h.writeServiceError(w, err, "failed to delete asset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssetHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(fallback, zap.Error(err))
	}
	writeError(w, status, services.Message(err, fallback))
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 || page > maxPage {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parseAssetID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "assetID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.New("invalid asset id")
	}
	return id.String(), nil
}

func parseAssetForm(w http.ResponseWriter, r *http.Request) (services.AssetUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAssetBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.AssetUpload{}, errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		return services.AssetUpload{}, errors.New("file is required")
	}
	defer file.Close()

	data, err := readFileLimited(file, services.MaxAssetBytes)
	if err != nil {
		return services.AssetUpload{}, err
	}

	return services.AssetUpload{
		Kind:        types.AssetKind(strings.ToLower(strings.TrimSpace(r.FormValue(formFieldKind)))),
		Filename:    header.Filename,
		ContentType: partContentType(header),
		Data:        data,
	}, nil
}

func partContentType(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Header.Get("Content-Type")
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
