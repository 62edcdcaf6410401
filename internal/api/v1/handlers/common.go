// Package handlers implements the v1 HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
)

var validate = validator.New()

// decodeRequest reads a JSON body into v and checks its validate tags.
// Failures are ValidationErrors.
func decodeRequest(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ocpp.NewError(ocpp.ValidationError, "invalid request body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			fe := fieldErrors[0]
			return ocpp.NewError(ocpp.ValidationError, "field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return ocpp.NewError(ocpp.ValidationError, "%v", err)
	}
	return nil
}

// sendError answers with the HTTP status services.StatusFor assigns to err.
func sendError(w http.ResponseWriter, tag string, err error) {
	status := services.StatusFor(nil, err)
	data := models.ErrorData{Error: err.Error()}
	var ocppErr *ocpp.Error
	if errors.As(err, &ocppErr) {
		data.ErrorCode = string(ocppErr.Code)
		data.Error = ocppErr.Description
	}

	message := data.Error
	switch {
	case errors.Is(err, correlation.ErrTimeout):
		message = "Timeout waiting for charge point response"
	case errors.Is(err, services.ErrChargePointNotFound):
		message = "Charge point not found"
	case errors.Is(err, correlation.ErrNotConnected):
		message = "Charge point not connected"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s: %v", tag, err)
	} else {
		log.Debugf("%s: %v", tag, err)
	}
	helpers.SendJSONResponse(w, status, models.APIResponse{
		Success: false,
		Message: message,
		Data:    data,
	})
}

// sendResult answers with the outcome of an operation. A CallError reply is
// reported as unsuccessful with the status StatusFor gives it.
func sendResult(w http.ResponseWriter, result *services.OperationResult, data interface{}) {
	status := services.StatusFor(result, nil)
	if result.Failed() {
		helpers.SendJSONResponse(w, status, models.APIResponse{
			Success: false,
			Message: fmt.Sprintf("%s failed on charge point", result.Action),
			Data:    data,
		})
		return
	}
	helpers.SendJSONResponse(w, status, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("%s %s", result.Action, orDefault(result.Status, "completed")),
		Data:    data,
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
