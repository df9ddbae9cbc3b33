package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeNotifyCustomer = "notify:customer"
)

// Task payloads
type NotifyCustomerPayload struct {
	TicketID      string `json:"ticket_id"`
	UserID        string `json:"user_id"`
	TicketNumber  int    `json:"ticket_number"`
	CurrentNumber int    `json:"current_number"`
}

// HandleNotifyCustomer sends the upcoming-turn push and best-effort flags the
// ticket as notified. Send and flag-update are not one transaction: a flag
// failure after a successful send may lead to a duplicate push on the next
// trigger. Both failure cases are logged and not retried, so the return is
// always nil.
func (h *Handlers) HandleNotifyCustomer(ctx context.Context, t *asynq.Task) error {
	var payload NotifyCustomerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	message := NotificationMessage{
		ID:            fmt.Sprintf("upcoming_%d", time.Now().UnixNano()),
		Type:          "upcoming",
		Title:         "Almost your turn",
		Text:          fmt.Sprintf("Your ticket number: %d\nNow serving: %d\n\nYour turn is coming up, please be ready.", payload.TicketNumber, payload.CurrentNumber),
		TicketNumber:  payload.TicketNumber,
		CurrentNumber: payload.CurrentNumber,
		Timestamp:     time.Now(),
	}

	if _, err := h.pubNub.Publish(ctx, payload.UserID, message); err != nil {
		slog.Error(fmt.Sprintf("h.pubNub.Publish(userID: %v, ticket: %v)", payload.UserID, payload.TicketID), "error", err)
		return nil
	}

	if err := h.store.MarkNotified(ctx, payload.TicketID, time.Now()); err != nil {
		slog.Error(fmt.Sprintf("h.store.MarkNotified(ticketID: %v)", payload.TicketID), "error", err)
	}

	return nil
}
