package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/username/lotfolio/src/config"
	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/parsers"
	"github.com/username/lotfolio/src/security/validation"
	"github.com/username/lotfolio/src/services"
	"github.com/username/lotfolio/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{importService: service}
}

// HandleImport accepts one statement document plus a confirm flag. Without
// the flag the import is a read-only preview; with it the plan is applied.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file header reports size too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB (header check)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		logger.L.Warn("Server-side file content validation failed", "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	confirm := r.FormValue("confirm") == "true" || r.FormValue("confirm") == "1"
	logger.L.Info("Processing statement import", "filename", fileHeader.Filename, "confirm", confirm)

	if confirm {
		result, err := h.importService.Confirm(file)
		if err != nil {
			h.sendImportError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.importService.Preview(file)
	if err != nil {
		h.sendImportError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// sendImportError maps the import error taxonomy onto HTTP statuses: fatal
// structural/parse problems are the client's, unknown account is 404, the
// rest is ours.
func (h *ImportHandler) sendImportError(w http.ResponseWriter, err error) {
	var structural *parsers.StructuralError
	switch {
	case errors.As(err, &structural):
		utils.SendJSONError(w, structural.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrParsingFailed):
		utils.SendJSONError(w, fmt.Sprintf("Error parsing statement: %v", err), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAccountNotFound):
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
	default:
		logger.L.Error("Statement import failed", "error", err)
		utils.SendJSONError(w, "Internal error processing statement", http.StatusInternalServerError)
	}
}
