package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher watches the serving-counter change feed and lines up a push
// notification for the customer holding the ticket `lookahead` numbers ahead
// of the one just called. It never blocks or fails the counter update that
// triggered it; the actual send runs on the asynq worker.
type Dispatcher struct {
	redis       *redis.Client
	store       QueueStore
	asynqClient taskEnqueuer
	lookahead   int
}

func NewDispatcher(redis *redis.Client, store QueueStore, asynqClient *asynq.Client, lookahead int) *Dispatcher {
	if lookahead <= 0 {
		lookahead = 3
	}
	return &Dispatcher{
		redis:       redis,
		store:       store,
		asynqClient: asynqClient,
		lookahead:   lookahead,
	}
}

// Run consumes serving-change events until ctx is cancelled. Errors are
// logged and swallowed per event so one bad trigger never halts the feed.
func (d *Dispatcher) Run(ctx context.Context) {
	pubsub := d.redis.PSubscribe(ctx, "serving:*")
	defer pubsub.Close()

	slog.Info("notification dispatcher started", "lookahead", d.lookahead)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("notification dispatcher stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				slog.Info("notification dispatcher channel closed")
				return
			}

			var change ServingChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.Error("failed to unmarshal serving change", "payload", msg.Payload, "error", err)
				continue
			}

			if err := d.HandleServingChange(ctx, change); err != nil {
				slog.Error(fmt.Sprintf("d.HandleServingChange(store: %v, new: %v)", change.StoreID, change.NewNumber), "error", err)
			}
		}
	}
}

// HandleServingChange decides whether one serving-counter transition produces
// a notification and enqueues it if so.
func (d *Dispatcher) HandleServingChange(ctx context.Context, change ServingChange) error {
	// Duplicate delivery of the same transition is a no-op.
	if change.NewNumber == 0 || change.NewNumber == change.OldNumber {
		return nil
	}

	target := change.NewNumber + d.lookahead

	ticket, err := d.store.FindWaitingByNumber(ctx, change.StoreID, target)
	if err != nil {
		return fmt.Errorf("failed to look up ticket %d: %w", target, err)
	}
	if ticket == nil {
		// Queue shorter than the lookahead, or the ticket was cancelled.
		slog.Info("no waiting ticket at target number", "storeID", change.StoreID, "target", target)
		return nil
	}
	if ticket.UserID == "" {
		slog.Error("waiting ticket has no recipient id", "ticketID", ticket.TicketID, "target", target)
		return nil
	}

	payload := NotifyCustomerPayload{
		TicketID:      ticket.TicketID,
		UserID:        ticket.UserID,
		TicketNumber:  target,
		CurrentNumber: change.NewNumber,
	}
	payloadByte, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeNotifyCustomer, payloadByte)
	if _, err := d.asynqClient.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue notification for ticket %s: %w", ticket.TicketID, err)
	}

	slog.Info("queued upcoming-turn notification", "storeID", change.StoreID, "ticketNumber", target, "currentNumber", change.NewNumber)
	return nil
}
