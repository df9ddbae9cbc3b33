package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueStore is the queue manager surface consumed by the HTTP handlers and
// the notification dispatcher.
type QueueStore interface {
	InitStore(ctx context.Context, storeID string) (*Store, error)
	GetStore(ctx context.Context, storeID string) (*Store, error)
	IssueTicket(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error)
	CallNext(ctx context.Context, storeID string) (*CallNextResult, error)
	SetAccepting(ctx context.Context, storeID string, accepting bool) error
	ListWaiting(ctx context.Context, storeID string) ([]Ticket, error)
	ListByUser(ctx context.Context, storeID, userID string) ([]Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
	SetTicketStatus(ctx context.Context, ticketID, status string) error
	FindWaitingByNumber(ctx context.Context, storeID string, number int) (*Ticket, error)
	MarkNotified(ctx context.Context, ticketID string, at time.Time) error
	GetStoreInfo(ctx context.Context, storeID string) (*StoreInfo, error)
	SetTodaySpecial(ctx context.Context, storeID, todaySpecial string) error
}

var _ QueueStore = (*QueueService)(nil)

type QueueService struct {
	redis      *redis.Client
	maxRetries int
}

func NewQueueService(redis *redis.Client, maxRetries int) *QueueService {
	if maxRetries <= 0 {
		maxRetries = 16
	}
	return &QueueService{redis: redis, maxRetries: maxRetries}
}

func storeKey(storeID string) string {
	return fmt.Sprintf("store:%s", storeID)
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("ticket:%s", ticketID)
}

func waitingKey(storeID string) string {
	return fmt.Sprintf("store:%s:waiting", storeID)
}

func userTicketsKey(storeID, userID string) string {
	return fmt.Sprintf("store:%s:user:%s", storeID, userID)
}

func callNumbersKey(storeID string) string {
	return fmt.Sprintf("callnumbers:%s", storeID)
}

func storeInfoKey(storeID string) string {
	return fmt.Sprintf("storeinfo:%s", storeID)
}

func servingChannel(storeID string) string {
	return fmt.Sprintf("serving:%s", storeID)
}

// runTx runs fn under WATCH on the given keys, retrying on optimistic
// conflicts. The store record is the single serialization point for counter
// mutation; when the retry budget runs out the conflict is reported as
// unavailability, never as its own failure mode.
func (qs *QueueService) runTx(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < qs.maxRetries; i++ {
		err := qs.redis.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted: %w", ErrUnavailable)
}

func readStoreTx(ctx context.Context, tx *redis.Tx, storeID string) (*Store, error) {
	raw, err := tx.Get(ctx, storeKey(storeID)).Bytes()
	if err == redis.Nil {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", storeID, err)
	}
	var store Store
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store %s: %w", storeID, err)
	}
	return &store, nil
}

func readTicketTx(ctx context.Context, tx *redis.Tx, ticketID string) (*Ticket, error) {
	raw, err := tx.Get(ctx, ticketKey(ticketID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %s: %w", ticketID, err)
	}
	var ticket Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", ticketID, err)
	}
	return &ticket, nil
}

// InitStore creates a zeroed, accepting store record if none exists yet and
// returns the live record either way.
func (qs *QueueService) InitStore(ctx context.Context, storeID string) (*Store, error) {
	var result *Store
	key := storeKey(storeID)
	err := qs.runTx(ctx, func(tx *redis.Tx) error {
		existing, err := readStoreTx(ctx, tx, storeID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, ErrStoreNotFound) {
			return err
		}

		now := time.Now()
		store := &Store{
			StoreID:     storeID,
			IsAccepting: true,
			UpdatedAt:   now,
		}
		storeJSON, err := json.Marshal(store)
		if err != nil {
			return err
		}
		callJSON, err := json.Marshal(CallNumber{CurrentNumber: 0, UpdatedAt: now})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, storeJSON, 0)
			pipe.Set(ctx, callNumbersKey(storeID), callJSON, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = store
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (qs *QueueService) GetStore(ctx context.Context, storeID string) (*Store, error) {
	raw, err := qs.redis.Get(ctx, storeKey(storeID)).Bytes()
	if err == redis.Nil {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", storeID, err)
	}
	var store Store
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store %s: %w", storeID, err)
	}
	return &store, nil
}

// IssueTicket hands out the next sequential number. Store counters and the
// new ticket record commit in one transaction, so concurrent callers can
// never receive the same number for the same store.
func (qs *QueueService) IssueTicket(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error) {
	if numberOfPeople < 1 {
		return nil, ErrInvalidPartySize
	}
	if userID == "" {
		return nil, ErrMissingUserID
	}

	var result *IssueTicketResult
	key := storeKey(storeID)
	err := qs.runTx(ctx, func(tx *redis.Tx) error {
		store, err := readStoreTx(ctx, tx, storeID)
		if err != nil {
			return err
		}
		if !store.IsAccepting {
			return ErrNotAccepting
		}

		now := time.Now()
		newNumber := store.LastIssuedTicketNumber + 1
		store.LastIssuedTicketNumber = newNumber
		store.WaitingGroups++
		store.UpdatedAt = now

		ticket := Ticket{
			TicketID:       uuid.NewString(),
			StoreID:        storeID,
			TicketNumber:   newNumber,
			Status:         StatusWaiting,
			UserID:         userID,
			NumberOfPeople: numberOfPeople,
			IssuedAt:       now,
		}

		storeJSON, err := json.Marshal(store)
		if err != nil {
			return err
		}
		ticketJSON, err := json.Marshal(ticket)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, storeJSON, 0)
			pipe.Set(ctx, ticketKey(ticket.TicketID), ticketJSON, 0)
			pipe.ZAdd(ctx, waitingKey(storeID), redis.Z{Score: float64(newNumber), Member: ticket.TicketID})
			pipe.SAdd(ctx, userTicketsKey(storeID, userID), ticket.TicketID)
			return nil
		})
		if err != nil {
			return err
		}

		result = &IssueTicketResult{
			TicketNumber:  newNumber,
			TicketID:      ticket.TicketID,
			WaitingGroups: store.WaitingGroups,
		}
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CallNext advances the serving counter by exactly one. The projection record
// and the serving-change event commit in the same MULTI/EXEC as the store
// update; no ticket changes status here, that stays a separate staff action.
func (qs *QueueService) CallNext(ctx context.Context, storeID string) (*CallNextResult, error) {
	var result *CallNextResult
	key := storeKey(storeID)
	err := qs.runTx(ctx, func(tx *redis.Tx) error {
		store, err := readStoreTx(ctx, tx, storeID)
		if err != nil {
			return err
		}
		if store.WaitingGroups <= 0 {
			return ErrQueueEmpty
		}
		if store.CurrentTicketNumber >= store.LastIssuedTicketNumber {
			return ErrQueueEmpty
		}

		now := time.Now()
		oldNumber := store.CurrentTicketNumber
		newNumber := oldNumber + 1
		store.CurrentTicketNumber = newNumber
		store.WaitingGroups--
		store.UpdatedAt = now

		storeJSON, err := json.Marshal(store)
		if err != nil {
			return err
		}
		callJSON, err := json.Marshal(CallNumber{CurrentNumber: newNumber, UpdatedAt: now})
		if err != nil {
			return err
		}
		changeJSON, err := json.Marshal(ServingChange{StoreID: storeID, OldNumber: oldNumber, NewNumber: newNumber})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, storeJSON, 0)
			pipe.Set(ctx, callNumbersKey(storeID), callJSON, 0)
			pipe.Publish(ctx, servingChannel(storeID), changeJSON)
			return nil
		})
		if err != nil {
			return err
		}

		result = &CallNextResult{
			CurrentTicketNumber: newNumber,
			WaitingGroups:       store.WaitingGroups,
		}
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (qs *QueueService) SetAccepting(ctx context.Context, storeID string, accepting bool) error {
	key := storeKey(storeID)
	return qs.runTx(ctx, func(tx *redis.Tx) error {
		store, err := readStoreTx(ctx, tx, storeID)
		if err != nil {
			return err
		}
		store.IsAccepting = accepting
		store.UpdatedAt = time.Now()

		storeJSON, err := json.Marshal(store)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, storeJSON, 0)
			return nil
		})
		return err
	}, key)
}

// ListWaiting returns the waiting tickets in ascending ticket-number order.
// A fresh snapshot each call; not linearized against in-flight writes.
func (qs *QueueService) ListWaiting(ctx context.Context, storeID string) ([]Ticket, error) {
	ids, err := qs.redis.ZRange(ctx, waitingKey(storeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting index: %w", err)
	}
	return qs.loadTickets(ctx, ids)
}

func (qs *QueueService) ListByUser(ctx context.Context, storeID, userID string) ([]Ticket, error) {
	ids, err := qs.redis.SMembers(ctx, userTicketsKey(storeID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user index: %w", err)
	}
	tickets, err := qs.loadTickets(ctx, ids)
	if err != nil {
		return nil, err
	}

	open := tickets[:0]
	for _, ticket := range tickets {
		if ticket.Status == StatusWaiting || ticket.Status == StatusCalled {
			open = append(open, ticket)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].TicketNumber < open[j].TicketNumber })
	return open, nil
}

func (qs *QueueService) loadTickets(ctx context.Context, ids []string) ([]Ticket, error) {
	if len(ids) == 0 {
		return []Ticket{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ticketKey(id)
	}
	raws, err := qs.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}

	tickets := make([]Ticket, 0, len(raws))
	for _, raw := range raws {
		body, ok := raw.(string)
		if !ok {
			continue // index entry without a record, skip
		}
		var ticket Ticket
		if err := json.Unmarshal([]byte(body), &ticket); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

func (qs *QueueService) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	raw, err := qs.redis.Get(ctx, ticketKey(ticketID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %s: %w", ticketID, err)
	}
	var ticket Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", ticketID, err)
	}
	return &ticket, nil
}

// SetTicketStatus overwrites a ticket's status and keeps the waiting index in
// step. Transition choice is left to staff tooling except that a terminal
// ticket never returns to waiting.
func (qs *QueueService) SetTicketStatus(ctx context.Context, ticketID, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	key := ticketKey(ticketID)
	return qs.runTx(ctx, func(tx *redis.Tx) error {
		ticket, err := readTicketTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if !CanTransition(ticket.Status, status) {
			return ErrTerminalStatus
		}

		wasWaiting := ticket.Status == StatusWaiting
		ticket.Status = status
		ticketJSON, err := json.Marshal(ticket)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, ticketJSON, 0)
			if wasWaiting && status != StatusWaiting {
				pipe.ZRem(ctx, waitingKey(ticket.StoreID), ticket.TicketID)
			}
			if !wasWaiting && status == StatusWaiting {
				pipe.ZAdd(ctx, waitingKey(ticket.StoreID), redis.Z{Score: float64(ticket.TicketNumber), Member: ticket.TicketID})
			}
			return nil
		})
		return err
	}, key)
}

// FindWaitingByNumber returns the single waiting ticket holding the given
// number, or nil when no such ticket exists.
func (qs *QueueService) FindWaitingByNumber(ctx context.Context, storeID string, number int) (*Ticket, error) {
	score := strconv.Itoa(number)
	ids, err := qs.redis.ZRangeByScore(ctx, waitingKey(storeID), &redis.ZRangeBy{
		Min:   score,
		Max:   score,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return qs.GetTicket(ctx, ids[0])
}

// MarkNotified sets the notified flag. Best effort by design: it runs after
// the push send, outside any transaction with it.
func (qs *QueueService) MarkNotified(ctx context.Context, ticketID string, at time.Time) error {
	key := ticketKey(ticketID)
	return qs.runTx(ctx, func(tx *redis.Tx) error {
		ticket, err := readTicketTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		ticket.Notified = true
		ticket.NotifiedAt = &at

		ticketJSON, err := json.Marshal(ticket)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, ticketJSON, 0)
			return nil
		})
		return err
	}, key)
}

func (qs *QueueService) GetStoreInfo(ctx context.Context, storeID string) (*StoreInfo, error) {
	raw, err := qs.redis.Get(ctx, storeInfoKey(storeID)).Bytes()
	if err == redis.Nil {
		return &StoreInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store info %s: %w", storeID, err)
	}
	var info StoreInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store info %s: %w", storeID, err)
	}
	return &info, nil
}

func (qs *QueueService) SetTodaySpecial(ctx context.Context, storeID, todaySpecial string) error {
	infoJSON, err := json.Marshal(StoreInfo{TodaySpecial: todaySpecial, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return qs.redis.Set(ctx, storeInfoKey(storeID), infoJSON, 0).Err()
}
