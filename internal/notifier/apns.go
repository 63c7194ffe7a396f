package notifier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// pusher is the part of *apns2.Client used here.
type pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNs pushes notifications to one iOS device with token auth.
type APNs struct {
	client      pusher
	deviceToken string
	topic       string
}

// APNsConfig holds the .p8 key and app identifiers.
type APNsConfig struct {
	KeyFile     string
	KeyID       string
	TeamID      string
	Topic       string
	DeviceToken string
	Production  bool
}

func NewAPNs(cfg APNsConfig) (*APNs, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load apns auth key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNs{client: client, deviceToken: cfg.DeviceToken, topic: cfg.Topic}, nil
}

func (a *APNs) Name() string { return "apns" }

func (a *APNs) Notify(ctx context.Context, n Notification) error {
	pl := payload.NewPayload().AlertTitle(n.Title).AlertBody(n.Body).Sound("default")
	resp, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: a.deviceToken,
		Topic:       a.topic,
		CollapseID:  "alert-" + strconv.Itoa(n.DedupeKey),
		Expiration:  time.Now().Add(24 * time.Hour),
		Payload:     pl,
	})
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}
	if !resp.Sent() {
		return fmt.Errorf("apns push failed: status %d: %s", resp.StatusCode, resp.Reason)
	}
	return nil
}
