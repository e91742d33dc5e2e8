package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WebhookOptions configures a Webhook handler.
type WebhookOptions struct {
	URL     string
	Token   string // sent as a bearer token when set
	Timeout time.Duration
	Tries   uint
	Client  *http.Client
}

// Webhook returns a handler that POSTs the payload as JSON to opts.URL.
// 5xx responses and transport errors are retried with exponential backoff;
// other non-2xx responses fail at once.
func Webhook(opts WebhookOptions) Handler {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Tries == 0 {
		opts.Tries = 3
	}

	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		post := func() (struct{}, error) {
			return struct{}{}, postOnce(ctx, client, opts, body)
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		_, err = backoff.Retry(ctx, post,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(opts.Tries),
			backoff.WithMaxElapsedTime(4*opts.Timeout),
		)
		return err
	}
}

func postOnce(ctx context.Context, client *http.Client, opts WebhookOptions, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook %s: %s", opts.URL, resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("webhook %s: %s", opts.URL, resp.Status))
	}
}
