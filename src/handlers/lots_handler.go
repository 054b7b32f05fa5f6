package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/services"
	"github.com/username/lotfolio/src/utils"
)

type LotsHandler struct {
	importService services.ImportService
}

func NewLotsHandler(service services.ImportService) *LotsHandler {
	return &LotsHandler{importService: service}
}

// HandleGetStockLots lists an account's stock lots, open lots first.
func (h *LotsHandler) HandleGetStockLots(w http.ResponseWriter, r *http.Request) {
	alias, year, ok := accountParams(w, r)
	if !ok {
		return
	}
	lots, err := h.importService.StockLots(alias, year)
	if err != nil {
		sendLotsError(w, alias, year, err)
		return
	}
	sendJSONWithETag(w, r, lots)
}

// HandleGetOptionLots lists an account's option lots, open lots first.
func (h *LotsHandler) HandleGetOptionLots(w http.ResponseWriter, r *http.Request) {
	alias, year, ok := accountParams(w, r)
	if !ok {
		return
	}
	lots, err := h.importService.OptionLots(alias, year)
	if err != nil {
		sendLotsError(w, alias, year, err)
		return
	}
	sendJSONWithETag(w, r, lots)
}

func accountParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	alias := r.URL.Query().Get("account")
	if alias == "" {
		utils.SendJSONError(w, "query parameter 'account' is required", http.StatusBadRequest)
		return "", 0, false
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		utils.SendJSONError(w, "query parameter 'year' must be a number", http.StatusBadRequest)
		return "", 0, false
	}
	return alias, year, true
}

func sendLotsError(w http.ResponseWriter, alias string, year int, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.L.Error("Error retrieving lots", "account", alias, "year", year, "error", err)
	utils.SendJSONError(w, fmt.Sprintf("Error retrieving lots for account %s/%d", alias, year), http.StatusInternalServerError)
}

// sendJSONWithETag responds 304 when the client already holds the current
// representation of the (cached) lot list.
func sendJSONWithETag(w http.ResponseWriter, r *http.Request, data interface{}) {
	etag, err := utils.GenerateETag(data)
	if err == nil {
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	sendJSON(w, http.StatusOK, data)
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.L.Error("Failed to encode JSON response", "error", err)
	}
}
