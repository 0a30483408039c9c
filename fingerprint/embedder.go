package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Embedder produces a dense vector for text content. A nil or null embedder
// leaves the text channel unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type NullEmbedder struct{}

func (NullEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, nil
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// HTTPEmbedder calls an external embedding endpoint.
type HTTPEmbedder struct {
	endpoint string
	hc       *http.Client
}

func NewHTTPEmbedder(endpoint string) *HTTPEmbedder {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	client := &http.Client{
		Timeout:   20 * time.Second,
		Transport: transport,
	}
	return &HTTPEmbedder{
		endpoint: endpoint,
		hc:       client,
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request failed, status code %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out embedResponse
	if err = json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}
