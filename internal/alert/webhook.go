package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	webhookTimeout = 5 * time.Second
	maxErrorBody   = 256
)

func newWebhookClient() *http.Client {
	return &http.Client{Timeout: webhookTimeout}
}

// postJSON delivers one alert body; any non-2xx reply is an error carrying
// the start of the response body
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: status %d: %s", channel, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// sortedFields returns alert field keys in a stable order
func sortedFields(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
