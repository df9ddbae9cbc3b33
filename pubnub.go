package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pubnubgo "github.com/pubnub/go/v7"
)

var _ Pubnub = (*pubnub)(nil)

type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UUIDKey, UUIDSubKey string
}

// NotificationMessage is the payload pushed to a customer's channel.
type NotificationMessage struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	TicketNumber  int       `json:"ticket_number,omitempty"`
	CurrentNumber int       `json:"current_number,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewPubnub(pnCfg *PubNubConfig) (Pubnub, error) {
	if pnCfg == nil {
		return nil, fmt.Errorf("[NewPubnub] pnCfg: must not be nil")
	}

	cfg := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(pnCfg.UUIDKey))
	cfg.PublishKey = pnCfg.PublishKey
	cfg.SubscribeKey = pnCfg.SubscribeKey
	cfg.SecretKey = pnCfg.SecretKey

	return &pubnub{
		pn:         pubnubgo.NewPubNub(cfg),
		uuidSubKey: pnCfg.UUIDSubKey,
	}, nil
}

type Pubnub interface {
	Publish(ctx context.Context, userID string, messagePayload any) (string, error)
	GenGrantToken(ctx context.Context) (string, error)
}

type pubnub struct {
	pn         *pubnubgo.PubNub
	uuidSubKey string
}

// Publish sends one message to the recipient's private channel. The recipient
// id is opaque to us; it only has to match what the customer page subscribed
// with.
func (p *pubnub) Publish(ctx context.Context, userID string, messagePayload any) (string, error) {
	messageJSON, err := setPrepareMessage(messagePayload)
	if err != nil {
		return "", err
	}

	channel := fmt.Sprintf("channel-%s", userID)

	publish := p.pn.Publish()
	publish.Channel(channel).Message(messageJSON)
	resp, _, err := publish.Execute()
	if err != nil {
		return "", err
	}

	s := strconv.FormatInt(resp.Timestamp, 10)
	return s, nil
}

// GenGrantToken issues a read-only token scoped to the per-customer channels,
// consumed by the customer-facing page.
func (p *pubnub) GenGrantToken(ctx context.Context) (string, error) {
	grantToken := p.pn.GrantTokenWithContext(ctx)
	permissions := map[string]pubnubgo.ChannelPermissions{
		"^channel-[A-Za-z0-9]*$": {
			Read: true,
		},
	}

	token, _, err := grantToken.TTL(60).AuthorizedUUID(p.uuidSubKey).ChannelsPattern(permissions).Execute()
	if err != nil {
		return "", err
	}

	return token.Data.Token, nil
}

// setPrepareMessage is a function to format message to JSON
func setPrepareMessage(messagePayload any) (string, error) {
	messageJSON, err := json.Marshal(messagePayload)
	if err != nil {
		return "", err
	}

	return string(messageJSON), nil
}
