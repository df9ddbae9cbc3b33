package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	store  QueueStore
	pubNub Pubnub
}

func httpStatusOf(err error) int {
	switch {
	case errors.Is(err, ErrStoreNotFound), errors.Is(err, ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAccepting), errors.Is(err, ErrQueueEmpty), errors.Is(err, ErrTerminalStatus):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPartySize), errors.Is(err, ErrMissingUserID), errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(httpStatusOf(err), map[string]string{"error": err.Error()})
}

func (h *Handlers) InitStore(c echo.Context) error {
	storeID := c.Param("storeId")
	if storeID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "storeId is empty"})
	}

	store, err := h.store.InitStore(c.Request().Context(), storeID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.InitStore(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, store)
}

func (h *Handlers) GetStore(c echo.Context) error {
	storeID := c.Param("storeId")

	store, err := h.store.GetStore(c.Request().Context(), storeID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.GetStore(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, store)
}

func (h *Handlers) IssueTicket(c echo.Context) error {
	storeID := c.Param("storeId")

	var req struct {
		UserID         string `json:"user_id"`
		NumberOfPeople int    `json:"number_of_people"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	result, err := h.store.IssueTicket(c.Request().Context(), storeID, req.UserID, req.NumberOfPeople)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.IssueTicket(storeID: %v, userID: %v)", storeID, req.UserID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) CallNext(c echo.Context) error {
	storeID := c.Param("storeId")

	result, err := h.store.CallNext(c.Request().Context(), storeID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.CallNext(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) SetAccepting(c echo.Context) error {
	storeID := c.Param("storeId")

	var req struct {
		IsAccepting bool `json:"is_accepting"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := h.store.SetAccepting(c.Request().Context(), storeID, req.IsAccepting); err != nil {
		slog.Error(fmt.Sprintf("h.store.SetAccepting(storeID: %v, accepting: %v)", storeID, req.IsAccepting), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"is_accepting": req.IsAccepting})
}

func (h *Handlers) ListWaiting(c echo.Context) error {
	storeID := c.Param("storeId")

	tickets, err := h.store.ListWaiting(c.Request().Context(), storeID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.ListWaiting(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, tickets)
}

func (h *Handlers) ListByUser(c echo.Context) error {
	storeID := c.Param("storeId")
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	tickets, err := h.store.ListByUser(c.Request().Context(), storeID, userID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.ListByUser(storeID: %v, userID: %v)", storeID, userID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, tickets)
}

func (h *Handlers) UpdateTicketStatus(c echo.Context) error {
	ticketID := c.Param("ticketId")

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := h.store.SetTicketStatus(c.Request().Context(), ticketID, req.Status); err != nil {
		slog.Error(fmt.Sprintf("h.store.SetTicketStatus(ticketID: %v, status: %v)", ticketID, req.Status), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

func (h *Handlers) GetStoreInfo(c echo.Context) error {
	storeID := c.Param("storeId")

	info, err := h.store.GetStoreInfo(c.Request().Context(), storeID)
	if err != nil {
		slog.Error(fmt.Sprintf("h.store.GetStoreInfo(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

func (h *Handlers) SetTodaySpecial(c echo.Context) error {
	storeID := c.Param("storeId")

	var req struct {
		TodaySpecial string `json:"today_special"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := h.store.SetTodaySpecial(c.Request().Context(), storeID, req.TodaySpecial); err != nil {
		slog.Error(fmt.Sprintf("h.store.SetTodaySpecial(%v)", storeID), "error", err)
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, "success")
}

func (h *Handlers) GrantToken(c echo.Context) error {
	token, err := h.pubNub.GenGrantToken(c.Request().Context())
	if err != nil {
		slog.Error("h.pubNub.GenGrantToken()", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// TestNotification pushes one message straight to a recipient, bypassing the
// dispatcher's targeting. Connectivity check only.
func (h *Handlers) TestNotification(c echo.Context) error {
	userID := c.Param("userID")

	notification := NotificationMessage{
		ID:        fmt.Sprintf("test_%d", time.Now().UnixNano()),
		Type:      "test",
		Title:     "Test Notification",
		Text:      "Almost your turn\n\nThis is a test notification.",
		Timestamp: time.Now(),
	}

	if _, err := h.pubNub.Publish(c.Request().Context(), userID, notification); err != nil {
		slog.Error(fmt.Sprintf("h.pubNub.Publish(userID: %v)", userID), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, "success")
}
