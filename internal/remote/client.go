// Package remote implements the HTTP client driving the remote content
// store and conversion service: bucket/object listing, resumable chunked
// uploads, job submission, and manifest retrieval.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bmms/bmms-server/pkg/config"
	"github.com/rs/zerolog/log"
)

// Client talks to the remote content store and conversion service. It
// implements ContentStore and DerivativeService. Credentials come from the
// config passed at construction; there is no ambient state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenProvider
}

// NewClient creates a client for the remote services.
func NewClient(cfg *config.RemoteConfig) *Client {
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		tokens:     newTokenProvider(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes, httpClient),
	}
}

type listBucketsResponse struct {
	Items []Bucket `json:"items"`
}

type listObjectsResponse struct {
	Items []Object `json:"items"`
}

type resumableStatusResponse struct {
	Ranges []ResumableRange `json:"ranges"`
}

// ListBuckets returns the buckets visible to the configured credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var out listBucketsResponse
	if err := c.getJSON(ctx, "/oss/v2/buckets", "list buckets", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListObjects returns the objects in a bucket.
func (c *Client) ListObjects(ctx context.Context, bucketKey string) ([]Object, error) {
	path := fmt.Sprintf("/oss/v2/buckets/%s/objects", url.PathEscape(bucketKey))
	var out listObjectsResponse
	if err := c.getJSON(ctx, path, "list objects", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ResumableRanges returns the byte ranges already accepted for an upload
// session. ErrNotFound means the store has no record of the session yet.
func (c *Client) ResumableRanges(ctx context.Context, bucketKey, objectKey, sessionID string) ([]ResumableRange, error) {
	path := fmt.Sprintf("/oss/v2/buckets/%s/objects/%s/status/%s",
		url.PathEscape(bucketKey), url.PathEscape(objectKey), url.PathEscape(sessionID))
	var out resumableStatusResponse
	if err := c.getJSON(ctx, path, "resumable status", &out); err != nil {
		return nil, err
	}
	return out.Ranges, nil
}

// UploadChunk sends one chunk of an object. The store correlates chunks by
// session id and Content-Range and assembles the object once every byte
// has arrived.
func (c *Client) UploadChunk(ctx context.Context, bucketKey, objectKey string, chunk []byte, offset, totalBytes int64, sessionID string) error {
	path := fmt.Sprintf("/oss/v2/buckets/%s/objects/%s/resumable",
		url.PathEscape(bucketKey), url.PathEscape(objectKey))

	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, totalBytes))
	req.Header.Set("Session-Id", sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chunk upload failed: %w", err)
	}
	defer resp.Body.Close()

	// 202 while parts are outstanding, 200 once the object is assembled.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.storeError("upload chunk", resp)
	}
	return nil
}

type jobRequest struct {
	Input  jobInput  `json:"input"`
	Output jobOutput `json:"output"`
}

type jobInput struct {
	URN string `json:"urn"`
}

type jobOutput struct {
	Formats []JobSpec `json:"formats"`
}

// SubmitJob requests conversion of the object addressed by the derivation
// key into the given output format.
func (c *Client) SubmitJob(ctx context.Context, derivationKey string, spec JobSpec) error {
	body, err := json.Marshal(jobRequest{
		Input:  jobInput{URN: derivationKey},
		Output: jobOutput{Formats: []JobSpec{spec}},
	})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/modelderivative/v2/designdata/job", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ads-force", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.storeError("submit job", resp)
	}

	log.Debug().Str("derivation_key", derivationKey).Str("output_type", spec.OutputType).Msg("conversion job submitted")
	return nil
}

// GetManifest fetches the job manifest for a derivation key.
func (c *Client) GetManifest(ctx context.Context, derivationKey string) (*Manifest, error) {
	path := fmt.Sprintf("/modelderivative/v2/designdata/%s/manifest", url.PathEscape(derivationKey))
	var out Manifest
	if err := c.getJSON(ctx, path, "get manifest", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAsset streams one derivative asset. The caller owns the returned
// reader.
func (c *Client) DownloadAsset(ctx context.Context, derivationKey, assetURN string) (io.ReadCloser, error) {
	path := fmt.Sprintf("/modelderivative/v2/designdata/%s/manifest/%s",
		url.PathEscape(derivationKey), url.PathEscape(assetURN))

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset download failed: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("asset %s: %w", assetURN, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.storeError("download asset", resp)
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, dest interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return c.storeError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

type diagnosticBody struct {
	Diagnostic string `json:"diagnostic"`
	Reason     string `json:"reason"`
}

func (c *Client) storeError(op string, resp *http.Response) error {
	se := &StoreError{Op: op, StatusCode: resp.StatusCode}
	var body diagnosticBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		if body.Diagnostic != "" {
			se.Diagnostic = body.Diagnostic
		} else {
			se.Diagnostic = body.Reason
		}
	}
	return se
}
