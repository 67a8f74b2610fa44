// internal/fcm/fcm.go
package fcm

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client pushes sync outcome notifications to operator devices.
type Client struct {
	client *messaging.Client
}

func NewClient(ctx context.Context, credentialsJSON []byte) (*Client, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{}, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("firebase init failed: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging client init failed: %w", err)
	}

	return &Client{client: messagingClient}, nil
}

// SendToTokens delivers one notification to every token, in batches of up to
// 500 (the FCM SendEach limit). Individual token failures are logged, not
// returned: a stale device token must not fail the batch.
func (c *Client) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	var messages []*messaging.Message
	for _, token := range tokens {
		messages = append(messages, &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: data,
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{Sound: "default"},
				},
			},
			Android: &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{Sound: "default"},
				Priority:     "high",
			},
		})
	}

	const batchSize = 500
	for i := 0; i < len(messages); i += batchSize {
		end := i + batchSize
		if end > len(messages) {
			end = len(messages)
		}

		resp, err := c.client.SendEach(ctx, messages[i:end])
		if err != nil {
			return fmt.Errorf("FCM batch[%d:%d] failed: %w", i, end, err)
		}
		for j, r := range resp.Responses {
			if !r.Success {
				log.Printf("⚠️ FCM token %s failed: %v", maskToken(tokens[i+j]), r.Error)
			}
		}
	}
	return nil
}

// maskToken hides all but last 6 chars for logging safety
func maskToken(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
