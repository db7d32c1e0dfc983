package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/apperr"
)

// writeJSONResponse writes a JSON response with the specified status code
func writeJSONResponse(logger *zap.Logger, w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func writeErrorResponse(logger *zap.Logger, w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONResponse(logger, w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// writeAppError maps a classified error onto an HTTP status. The error
// category doubles as the machine-readable error code.
func writeAppError(logger *zap.Logger, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)

	var statusCode int
	switch kind {
	case apperr.KindValidation:
		statusCode = http.StatusBadRequest
	case apperr.KindWallet, apperr.KindToken:
		statusCode = http.StatusUnprocessableEntity
	case apperr.KindOffer, apperr.KindTrade:
		statusCode = http.StatusConflict
	case apperr.KindPrice:
		statusCode = http.StatusBadGateway
	default:
		statusCode = http.StatusInternalServerError
	}

	writeErrorResponse(logger, w, statusCode, string(kind), err.Error())
}
