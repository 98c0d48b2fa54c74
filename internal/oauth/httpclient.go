package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeroai/gateway/internal/httputil"
)

func httpClient() *http.Client { return httputil.NewClient(30 * time.Second) }

// postJSON POSTs body as JSON and decodes a successful JSON response into out.
func postJSON(endpoint string, body interface{}, headers map[string]string, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("oauth: marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("oauth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(req, out)
}

// postForm POSTs an application/x-www-form-urlencoded body.
func postForm(endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("oauth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return do(req, out)
}

// getJSON GETs endpoint and decodes a successful JSON response into out.
func getJSON(endpoint string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("oauth: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(req, out)
}

func do(req *http.Request, out interface{}) error {
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("oauth: request %s: %w", req.URL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("oauth: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errExchange(req.URL.Host, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("oauth: parse response: %w", err)
	}
	return nil
}
