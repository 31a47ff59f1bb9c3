package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends body as JSON to url and returns the raw response body of a
// 200 response. Any failure is returned as a *CallError; errMessage extracts
// the API's error text from a non-200 body when it can.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, body any, errMessage func([]byte) string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{Provider: name, Err: fmt.Errorf("building request body: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Provider: name, Err: fmt.Errorf("creating HTTP request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: name, Transient: true, Err: fmt.Errorf("sending HTTP request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &CallError{Provider: name, Transient: true, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if errMessage != nil {
			if m := errMessage(respBody); m != "" {
				msg = m
			}
		}
		return nil, &CallError{
			Provider:   name,
			StatusCode: httpResp.StatusCode,
			Transient:  transientStatus(httpResp.StatusCode),
			Err:        errors.New(msg),
		}
	}

	return respBody, nil
}
