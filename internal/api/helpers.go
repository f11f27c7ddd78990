// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/Dharp02/timeharbor/internal/logging"
	"github.com/Dharp02/timeharbor/internal/models"
)

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	}
	writeJSON(w, status, resp)
}

// respondError writes an error envelope with a stable machine code.
func respondError(w http.ResponseWriter, status int, code, message string) {
	resp := models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Encoding response failed")
	}
}

// decodeJSON decodes a request body, rejecting unknown garbage early.
func decodeJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
