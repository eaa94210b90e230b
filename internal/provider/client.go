package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/runrevr/imagerefresh/internal/config"
)

const editsPath = "/v1/images/edits"

// Client executes encoded requests against the image-generation provider and
// fetches result assets. All failures come back as *TransformError with a
// classified kind.
type Client struct {
	apiKey              string
	baseURL             string
	httpClient          *http.Client
	downloadClient      *http.Client
	log                 *slog.Logger
	maxTransientRetries int
}

// OutputAsset is one generated variant, either referenced by URL or returned
// inline by the provider.
type OutputAsset struct {
	URL         string
	Data        []byte
	ContentType string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 2 * time.Minute
	}
	downloadTimeout := cfg.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = 30 * time.Second
	}
	retries := cfg.TransientRetries
	if retries < 1 {
		retries = 3
	}

	return &Client{
		apiKey:              cfg.ProviderAPIKey,
		baseURL:             strings.TrimRight(cfg.ProviderBaseURL, "/"),
		httpClient:          &http.Client{Timeout: generateTimeout},
		downloadClient:      &http.Client{Timeout: downloadTimeout},
		log:                 log,
		maxTransientRetries: retries,
	}
}

// Send executes one encoded request. Transient failures (rate limit, network,
// timeout) are retried with backoff on the same strategy up to the configured
// bound; everything else returns immediately with its classification.
func (c *Client) Send(ctx context.Context, enc *EncodedRequest) ([]OutputAsset, error) {
	var lastErr *TransformError
	for attempt := 0; attempt < c.maxTransientRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Second << (attempt - 1)
			if c.log != nil {
				c.log.Info("retrying provider call", "strategy", enc.Strategy, "attempt", attempt+1, "backoff", backoff)
			}
			select {
			case <-ctx.Done():
				return nil, &TransformError{Kind: KindTransient, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		outputs, terr := c.sendOnce(ctx, enc)
		if terr == nil {
			return outputs, nil
		}
		if terr.Kind != KindTransient {
			return nil, terr
		}
		lastErr = terr
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) sendOnce(ctx context.Context, enc *EncodedRequest) ([]OutputAsset, *TransformError) {
	fullURL := c.baseURL + editsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(enc.Body))
	if err != nil {
		return nil, &TransformError{Kind: KindConfiguration, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", enc.ContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransformError{Kind: KindTransient, Err: fmt.Errorf("post provider: %w", err)}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransformError{Kind: KindTransient, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		terr := c.classifyErrorBody(resp.StatusCode, rawBody)
		if c.log != nil {
			c.log.Error("provider call failed", "status", resp.StatusCode, "strategy", enc.Strategy, "kind", terr.Kind, "body", truncateBody(rawBody))
		}
		return nil, terr
	}

	var genResp struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &genResp); err != nil {
		return nil, &TransformError{Kind: KindTransient, Err: fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))}
	}
	if len(genResp.Data) == 0 {
		return nil, &TransformError{Kind: KindTransient, Message: "provider returned no outputs"}
	}

	outputs := make([]OutputAsset, 0, len(genResp.Data))
	for _, item := range genResp.Data {
		switch {
		case item.URL != "":
			outputs = append(outputs, OutputAsset{URL: item.URL})
		case item.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, &TransformError{Kind: KindTransient, Err: fmt.Errorf("decode b64 output: %w", err)}
			}
			outputs = append(outputs, OutputAsset{Data: data, ContentType: SniffContentType(data)})
		}
	}
	if len(outputs) == 0 {
		return nil, &TransformError{Kind: KindTransient, Message: "provider outputs carried neither url nor data"}
	}

	if c.log != nil {
		c.log.Info("provider call succeeded", "strategy", enc.Strategy, "outputs", len(outputs))
	}
	return outputs, nil
}

func (c *Client) classifyErrorBody(status int, rawBody []byte) *TransformError {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rawBody, &errResp); err != nil || (errResp.Error.Type == "" && errResp.Error.Code == "") {
		return classify(status, "", "", truncateBody(rawBody))
	}
	return classify(status, errResp.Error.Type, errResp.Error.Code, errResp.Error.Message)
}

// Download fetches the referenced assets with bounded parallelism. Assets
// already carrying inline data pass through untouched. A failed secondary
// download never fails the batch; an error is returned only when nothing
// could be fetched.
func (c *Client) Download(ctx context.Context, assets []OutputAsset) ([]OutputAsset, error) {
	const maxParallel = 2

	results := make([]*OutputAsset, len(assets))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, asset := range assets {
		if len(asset.Data) > 0 {
			a := asset
			results[i] = &a
			continue
		}
		if asset.URL == "" {
			continue
		}

		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, contentType, err := c.downloadOne(ctx, url)
			if err != nil {
				if c.log != nil {
					c.log.Error("asset download failed", "url", url, "err", err)
				}
				return
			}
			results[i] = &OutputAsset{URL: url, Data: data, ContentType: contentType}
		}(i, asset.URL)
	}
	wg.Wait()

	var fetched []OutputAsset
	for _, r := range results {
		if r != nil {
			fetched = append(fetched, *r)
		}
	}
	if len(fetched) == 0 {
		return nil, &TransformError{Kind: KindTransient, Message: "all asset downloads failed"}
	}
	return fetched, nil
}

func (c *Client) downloadOne(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("asset fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read asset body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = SniffContentType(data)
	}
	return data, contentType, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
