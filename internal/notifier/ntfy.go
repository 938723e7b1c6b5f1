package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// NtfyNotifier publishes messages to an ntfy topic using the JSON publish API.
type NtfyNotifier struct {
	ServerURL   string
	Topic       string
	AccessToken string
	Client      *http.Client
}

type ntfyMessage struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *NtfyNotifier) Name() string {
	return "ntfy"
}

func (n *NtfyNotifier) Notify(ctx context.Context, msg Message) error {
	if n.Topic == "" {
		return fmt.Errorf("ntfy topic is not set")
	}

	priority := msg.Priority
	if priority == 0 {
		priority = PriorityDefault
	}

	tags := msg.Tags
	if tags == nil {
		tags = []string{}
	}

	body, err := json.Marshal(ntfyMessage{
		Topic:    n.Topic,
		Title:    msg.Title,
		Message:  msg.Body,
		Priority: priority,
		Tags:     tags,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if n.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.AccessToken)
	}

	resp, err := httpClient(n.Client).Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy failed with status %d", resp.StatusCode)
	}

	return nil
}
