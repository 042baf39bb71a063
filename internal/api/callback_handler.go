package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/store"
)

// DeliveryCallbackRequest represents a delivery-receipt callback from
// the sending channel.
type DeliveryCallbackRequest struct {
	ProviderMessageID string `json:"provider_message_id" validate:"required"`
	Status            string `json:"status"              validate:"required"`
	Raw               string `json:"raw"`
}

// DeliveryCallbackResponse confirms an applied callback.
type DeliveryCallbackResponse struct {
	MessageID      string `json:"message_id"`
	DeliveryStatus string `json:"delivery_status"`
}

// callbackStatuses maps provider callback status strings onto the
// delivery state machine. Providers only ever report outcomes, so only
// outcome states appear here.
var callbackStatuses = map[string]domain.DeliveryStatus{
	"delivered":   domain.DeliveryStatusDelivered,
	"failed":      domain.DeliveryStatusFailed,
	"bounced":     domain.DeliveryStatusBounced,
	"undelivered": domain.DeliveryStatusUndelivered,
}

// CallbackHandler handles delivery-receipt callbacks from the provider.
type CallbackHandler struct {
	messages  store.MessageStore
	validator *validator.Validate
	logger    *slog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
// If logger is nil, a default logger is used.
func NewCallbackHandler(messages store.MessageStore, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &CallbackHandler{
		messages:  messages,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "callback_handler")),
	}
}

// HandleDeliveryCallback handles POST /callbacks/delivery requests.
// An out-of-order or duplicate callback that would move a message
// backwards, or out of a terminal state, is rejected with 409 rather
// than applied or dropped — the provider's retry machinery treats the
// conflict as settled.
func (h *CallbackHandler) HandleDeliveryCallback(w http.ResponseWriter, r *http.Request) {
	var req DeliveryCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Missing required fields")
		return
	}

	status, ok := callbackStatuses[req.Status]
	if !ok {
		RespondWithError(w, r, http.StatusBadRequest, "Unknown delivery status")
		return
	}

	message, err := h.messages.GetByProviderMessageID(r.Context(), req.ProviderMessageID)
	if err != nil {
		if store.IsNotFoundError(err) {
			RespondWithError(w, r, http.StatusNotFound, "Unknown provider message ID")
			return
		}
		h.logger.Error("failed to look up message for callback",
			slog.String("error", err.Error()),
			slog.String("provider_message_id", req.ProviderMessageID))
		RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	params := store.TransitionParams{}
	if req.Raw != "" {
		params.ProviderStatusRaw = &req.Raw
	}

	err = h.messages.TransitionDeliveryStatus(r.Context(), message.ID, status, params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.logger.Warn("callback rejected: invalid transition",
				slog.String("message_id", message.ID.String()),
				slog.String("from", string(message.DeliveryStatus)),
				slog.String("to", string(status)))
			RespondWithError(w, r, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to apply delivery callback",
			slog.String("error", err.Error()),
			slog.String("message_id", message.ID.String()))
		RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, DeliveryCallbackResponse{
		MessageID:      message.ID.String(),
		DeliveryStatus: string(status),
	})
}
