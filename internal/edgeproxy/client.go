package edgeproxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is a relayed PDS response.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// PDSClient calls the preference endpoints of the Personal Data Server with a login token.
type PDSClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPDSClient builds a client for baseURL. A nil httpClient gets one with timeout.
func NewPDSClient(baseURL string, httpClient *http.Client, timeout time.Duration) *PDSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &PDSClient{baseURL: baseURL, httpClient: httpClient}
}

// GetPrefs relays GET /get_prefs.
func (c *PDSClient) GetPrefs(ctx context.Context, loginToken string) (Response, error) {
	return c.do(ctx, http.MethodGet, "/get_prefs", loginToken, nil)
}

// SavePrefs relays POST /save_prefs with body as the new preferences document.
func (c *PDSClient) SavePrefs(ctx context.Context, loginToken string, body []byte) (Response, error) {
	return c.do(ctx, http.MethodPost, "/save_prefs", loginToken, body)
}

func (c *PDSClient) do(ctx context.Context, method, path, loginToken string, body []byte) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("build pds request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+loginToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("pds %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read pds response: %w", err)
	}
	return Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
