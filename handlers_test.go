package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakeStore struct {
	initFn         func(ctx context.Context, storeID string) (*Store, error)
	getStoreFn     func(ctx context.Context, storeID string) (*Store, error)
	issueFn        func(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error)
	callNextFn     func(ctx context.Context, storeID string) (*CallNextResult, error)
	setAcceptingFn func(ctx context.Context, storeID string, accepting bool) error
	listWaitingFn  func(ctx context.Context, storeID string) ([]Ticket, error)
	listByUserFn   func(ctx context.Context, storeID, userID string) ([]Ticket, error)
	getTicketFn    func(ctx context.Context, ticketID string) (*Ticket, error)
	setStatusFn    func(ctx context.Context, ticketID, status string) error
	findWaitingFn  func(ctx context.Context, storeID string, number int) (*Ticket, error)
	markNotifiedFn func(ctx context.Context, ticketID string, at time.Time) error
	getInfoFn      func(ctx context.Context, storeID string) (*StoreInfo, error)
	setSpecialFn   func(ctx context.Context, storeID, todaySpecial string) error
}

func (f *fakeStore) InitStore(ctx context.Context, storeID string) (*Store, error) {
	if f.initFn == nil {
		return &Store{StoreID: storeID, IsAccepting: true}, nil
	}
	return f.initFn(ctx, storeID)
}

func (f *fakeStore) GetStore(ctx context.Context, storeID string) (*Store, error) {
	if f.getStoreFn == nil {
		return &Store{StoreID: storeID}, nil
	}
	return f.getStoreFn(ctx, storeID)
}

func (f *fakeStore) IssueTicket(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error) {
	if f.issueFn == nil {
		return &IssueTicketResult{}, nil
	}
	return f.issueFn(ctx, storeID, userID, numberOfPeople)
}

func (f *fakeStore) CallNext(ctx context.Context, storeID string) (*CallNextResult, error) {
	if f.callNextFn == nil {
		return &CallNextResult{}, nil
	}
	return f.callNextFn(ctx, storeID)
}

func (f *fakeStore) SetAccepting(ctx context.Context, storeID string, accepting bool) error {
	if f.setAcceptingFn == nil {
		return nil
	}
	return f.setAcceptingFn(ctx, storeID, accepting)
}

func (f *fakeStore) ListWaiting(ctx context.Context, storeID string) ([]Ticket, error) {
	if f.listWaitingFn == nil {
		return []Ticket{}, nil
	}
	return f.listWaitingFn(ctx, storeID)
}

func (f *fakeStore) ListByUser(ctx context.Context, storeID, userID string) ([]Ticket, error) {
	if f.listByUserFn == nil {
		return []Ticket{}, nil
	}
	return f.listByUserFn(ctx, storeID, userID)
}

func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	if f.getTicketFn == nil {
		return nil, ErrTicketNotFound
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f *fakeStore) SetTicketStatus(ctx context.Context, ticketID, status string) error {
	if f.setStatusFn == nil {
		return nil
	}
	return f.setStatusFn(ctx, ticketID, status)
}

func (f *fakeStore) FindWaitingByNumber(ctx context.Context, storeID string, number int) (*Ticket, error) {
	if f.findWaitingFn == nil {
		return nil, nil
	}
	return f.findWaitingFn(ctx, storeID, number)
}

func (f *fakeStore) MarkNotified(ctx context.Context, ticketID string, at time.Time) error {
	if f.markNotifiedFn == nil {
		return nil
	}
	return f.markNotifiedFn(ctx, ticketID, at)
}

func (f *fakeStore) GetStoreInfo(ctx context.Context, storeID string) (*StoreInfo, error) {
	if f.getInfoFn == nil {
		return &StoreInfo{}, nil
	}
	return f.getInfoFn(ctx, storeID)
}

func (f *fakeStore) SetTodaySpecial(ctx context.Context, storeID, todaySpecial string) error {
	if f.setSpecialFn == nil {
		return nil
	}
	return f.setSpecialFn(ctx, storeID, todaySpecial)
}

type fakePubnub struct {
	published []publishedMessage
	publishFn func(ctx context.Context, userID string, payload any) (string, error)
}

type publishedMessage struct {
	userID  string
	payload any
}

func (f *fakePubnub) Publish(ctx context.Context, userID string, payload any) (string, error) {
	if f.publishFn != nil {
		return f.publishFn(ctx, userID, payload)
	}
	f.published = append(f.published, publishedMessage{userID: userID, payload: payload})
	return "1", nil
}

func (f *fakePubnub) GenGrantToken(ctx context.Context) (string, error) {
	return "test-token", nil
}

func newTestContext(t *testing.T, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestIssueTicketHandler(t *testing.T) {
	var gotStoreID, gotUserID string
	var gotPeople int
	store := &fakeStore{
		issueFn: func(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error) {
			gotStoreID, gotUserID, gotPeople = storeID, userID, numberOfPeople
			return &IssueTicketResult{TicketNumber: 11, TicketID: "t-11", WaitingGroups: 6}, nil
		},
	}
	h := &Handlers{store: store, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodPost, `{"user_id":"U123","number_of_people":2}`)
	c.SetParamNames("storeId")
	c.SetParamValues("kimura")

	if err := h.IssueTicket(c); err != nil {
		t.Fatalf("IssueTicket handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if gotStoreID != "kimura" || gotUserID != "U123" || gotPeople != 2 {
		t.Fatalf("store called with (%q, %q, %d)", gotStoreID, gotUserID, gotPeople)
	}

	var result IssueTicketResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.TicketNumber != 11 || result.TicketID != "t-11" || result.WaitingGroups != 6 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIssueTicketHandlerErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"store missing", ErrStoreNotFound, http.StatusNotFound},
		{"not accepting", ErrNotAccepting, http.StatusConflict},
		{"bad party size", ErrInvalidPartySize, http.StatusBadRequest},
		{"missing user", ErrMissingUserID, http.StatusBadRequest},
		{"storage down", ErrUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				issueFn: func(ctx context.Context, storeID, userID string, numberOfPeople int) (*IssueTicketResult, error) {
					return nil, tt.err
				},
			}
			h := &Handlers{store: store, pubNub: &fakePubnub{}}

			c, rec := newTestContext(t, http.MethodPost, `{"user_id":"U123","number_of_people":1}`)
			c.SetParamNames("storeId")
			c.SetParamValues("kimura")

			if err := h.IssueTicket(c); err != nil {
				t.Fatalf("IssueTicket handler: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status=%d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCallNextHandler(t *testing.T) {
	store := &fakeStore{
		callNextFn: func(ctx context.Context, storeID string) (*CallNextResult, error) {
			return &CallNextResult{CurrentTicketNumber: 6, WaitingGroups: 5}, nil
		},
	}
	h := &Handlers{store: store, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodPost, "")
	c.SetParamNames("storeId")
	c.SetParamValues("kimura")

	if err := h.CallNext(c); err != nil {
		t.Fatalf("CallNext handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var result CallNextResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.CurrentTicketNumber != 6 || result.WaitingGroups != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCallNextHandlerQueueEmpty(t *testing.T) {
	store := &fakeStore{
		callNextFn: func(ctx context.Context, storeID string) (*CallNextResult, error) {
			return nil, ErrQueueEmpty
		},
	}
	h := &Handlers{store: store, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodPost, "")
	c.SetParamNames("storeId")
	c.SetParamValues("kimura")

	if err := h.CallNext(c); err != nil {
		t.Fatalf("CallNext handler: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
}

func TestUpdateTicketStatusHandlerTerminal(t *testing.T) {
	store := &fakeStore{
		setStatusFn: func(ctx context.Context, ticketID, status string) error {
			return ErrTerminalStatus
		},
	}
	h := &Handlers{store: store, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodPut, `{"status":"waiting"}`)
	c.SetParamNames("ticketId")
	c.SetParamValues("t-9")

	if err := h.UpdateTicketStatus(c); err != nil {
		t.Fatalf("UpdateTicketStatus handler: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
}

func TestListByUserHandlerRequiresUserID(t *testing.T) {
	h := &Handlers{store: &fakeStore{}, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodGet, "")
	c.SetParamNames("storeId")
	c.SetParamValues("kimura")

	if err := h.ListByUser(c); err != nil {
		t.Fatalf("ListByUser handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestListWaitingHandler(t *testing.T) {
	store := &fakeStore{
		listWaitingFn: func(ctx context.Context, storeID string) ([]Ticket, error) {
			return []Ticket{
				{TicketID: "a", TicketNumber: 7, Status: StatusWaiting},
				{TicketID: "b", TicketNumber: 8, Status: StatusWaiting},
			}, nil
		},
	}
	h := &Handlers{store: store, pubNub: &fakePubnub{}}

	c, rec := newTestContext(t, http.MethodGet, "")
	c.SetParamNames("storeId")
	c.SetParamValues("kimura")

	if err := h.ListWaiting(c); err != nil {
		t.Fatalf("ListWaiting handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var tickets []Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &tickets); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(tickets) != 2 || tickets[0].TicketNumber != 7 || tickets[1].TicketNumber != 8 {
		t.Fatalf("unexpected tickets: %+v", tickets)
	}
}

func TestTestNotificationHandler(t *testing.T) {
	pn := &fakePubnub{}
	h := &Handlers{store: &fakeStore{}, pubNub: pn}

	c, rec := newTestContext(t, http.MethodGet, "")
	c.SetParamNames("userID")
	c.SetParamValues("U123")

	if err := h.TestNotification(c); err != nil {
		t.Fatalf("TestNotification handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if len(pn.published) != 1 || pn.published[0].userID != "U123" {
		t.Fatalf("unexpected publishes: %+v", pn.published)
	}
}
