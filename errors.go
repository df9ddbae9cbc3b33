package main

import "errors"

var (
	ErrStoreNotFound    = errors.New("store not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNotAccepting     = errors.New("store is not accepting tickets")
	ErrQueueEmpty       = errors.New("no waiting groups")
	ErrInvalidPartySize = errors.New("number of people must be at least 1")
	ErrMissingUserID    = errors.New("user id is required")
	ErrInvalidStatus    = errors.New("invalid ticket status")
	ErrTerminalStatus   = errors.New("ticket already completed or cancelled")
	ErrUnavailable      = errors.New("storage unavailable")
)
