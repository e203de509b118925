package http

import (
	"context"
	"go-poll/internal/config"
	herrors "go-poll/internal/http/errors"
	"go-poll/internal/model"
	"go-poll/internal/model/sqlquery"
	"net/http"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	getConfigErrorHandler    = herrors.NewErrorHandler("GetConfig")
	updateConfigErrorHandler = herrors.NewErrorHandler("UpdateConfig")
)

type responseConfigUpdate struct {
	Updated []string `json:"updated"`
}

func (js *jobServer) getConfigHandler(w http.ResponseWriter, req *http.Request) {
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	entries, err := js.Config.ListConfig(timeoutCtx)
	if err != nil {
		getConfigErrorHandler.WriteAndLogError(w, "failed to list config", err, http.StatusInternalServerError, log.Fields{})
		return
	}

	masked := make([]model.ConfigEntry, 0, len(entries))
	for _, entry := range entries {
		masked = append(masked, config.Mask(entry))
	}
	writeJSON(w, masked)
}

// updateConfigHandler stores every submitted key. Masked placeholders are ignored so a
// client can send back what it read.
func (js *jobServer) updateConfigHandler(w http.ResponseWriter, req *http.Request) {
	values := make(map[string]string)
	if !decodeJSON(w, req, updateConfigErrorHandler, &values) {
		return
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			updateConfigErrorHandler.WriteAndLogErrorMsg(w, "config key must not be empty", http.StatusBadRequest, log.Fields{})
			return
		}
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	updated := make([]string, 0, len(keys))
	for _, key := range keys {
		value := values[key]
		if value == config.MaskedValue {
			continue
		}
		if err := js.Config.SetString(timeoutCtx, key, config.Normalize(key, value)); err != nil {
			updateConfigErrorHandler.WriteAndLogError(
				w,
				"failed to update config",
				err,
				http.StatusInternalServerError,
				log.Fields{"key": key},
			)
			return
		}
		updated = append(updated, key)
	}
	log.WithFields(log.Fields{"keys": updated}).Info("Config updated")
	writeJSON(w, responseConfigUpdate{Updated: updated})
}
