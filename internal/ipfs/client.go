package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Metadata is the off-chain object pinned for a token before minting.
type Metadata struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Image       []byte     `json:"-"`
	ImageName   string     `json:"-"`
	Properties  Properties `json:"properties"`
}

// Properties carries the marketplace-specific metadata fields.
type Properties struct {
	ContentURL      string   `json:"contentUrl"`
	Price           string   `json:"price"`
	Tags            []string `json:"tags,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
	ExternalSite    string   `json:"externalSite,omitempty"`
}

// PinResult identifies the pinned object.
type PinResult struct {
	URL string
	CID string
}

// Pinner stores token metadata off-chain and returns its
// content-addressed identity.
type Pinner interface {
	Pin(ctx context.Context, meta Metadata) (PinResult, error)
}

// Client pins metadata to an HTTP content-addressed store.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a pinning client for the given endpoint and bearer
// token.
func NewClient(endpoint, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type storeResponse struct {
	OK    bool `json:"ok"`
	Value struct {
		URL   string `json:"url"`
		IPNFT string `json:"ipnft"`
	} `json:"value"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Pin uploads the metadata (and image blob, when present) and returns
// the resulting content id and gateway URL.
func (c *Client) Pin(ctx context.Context, meta Metadata) (PinResult, error) {
	if c.endpoint == "" {
		return PinResult{}, fmt.Errorf("pin endpoint is not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return PinResult{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writer.WriteField("meta", string(metaJSON)); err != nil {
		return PinResult{}, fmt.Errorf("write meta field: %w", err)
	}

	if len(meta.Image) > 0 {
		name := meta.ImageName
		if name == "" {
			name = "image"
		}
		part, err := writer.CreateFormFile("image", name)
		if err != nil {
			return PinResult{}, fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(meta.Image); err != nil {
			return PinResult{}, fmt.Errorf("write image part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return PinResult{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/store", &body)
	if err != nil {
		return PinResult{}, fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PinResult{}, fmt.Errorf("pin metadata: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PinResult{}, fmt.Errorf("read pin response: %w", err)
	}

	var decoded storeResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return PinResult{}, fmt.Errorf("parse pin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !decoded.OK {
		msg := decoded.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return PinResult{}, fmt.Errorf("pin rejected: %s", msg)
	}
	if decoded.Value.IPNFT == "" {
		return PinResult{}, fmt.Errorf("pin response missing content id")
	}

	c.logger.Info("metadata pinned",
		zap.String("cid", decoded.Value.IPNFT),
		zap.String("name", meta.Name),
	)

	return PinResult{URL: decoded.Value.URL, CID: decoded.Value.IPNFT}, nil
}
