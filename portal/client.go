// Package portal talks to the CFX portal API. Every call is a single round
// trip; retrying is left to the caller.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/hashicorp/go-retryablehttp"
)

// ReuploadRequest opens a re-upload session for an existing asset.
type ReuploadRequest struct {
	AssetID    string
	ChunkCount int
	ChunkSize  int64
	TotalSize  int64
	FileName   string
}

type reuploadRequestBody struct {
	ChunkCount       int    `json:"chunk_count"`
	ChunkSize        int64  `json:"chunk_size"`
	Name             string `json:"name"`
	OriginalFileName string `json:"original_file_name"`
	TotalSize        int64  `json:"total_size"`
}

type reuploadResponse struct {
	AssetID int             `json:"asset_id"`
	Errors  json.RawMessage `json:"errors"`
}

type asset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type searchResponse struct {
	Items []asset `json:"items"`
}

// Client ...
type Client struct {
	httpClient *retryablehttp.Client
	endpoints  Endpoints
	logger     log.Logger
}

// NewClient creates a client whose requests share the given timeout.
func NewClient(endpoints Endpoints, timeout time.Duration, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = 0
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.HTTPClient.Timeout = timeout

	return &Client{
		httpClient: httpClient,
		endpoints:  endpoints,
		logger:     logger,
	}
}

// Endpoints ...
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// VerifySession performs a cheap authenticated listing to check cookieHeader.
func (c *Client) VerifySession(ctx context.Context, cookieHeader string) error {
	resp, err := c.do(ctx, http.MethodGet, c.searchURL(""), cookieHeader, nil, "")
	if err != nil {
		return err
	}
	c.closeBody(resp.Body)
	return nil
}

// ResolveAssetID returns the id of the asset named exactly name.
func (c *Client) ResolveAssetID(ctx context.Context, name, cookieHeader string) (string, error) {
	c.logger.Debugf("Resolving asset id for name \"%s\".", name)

	resp, err := c.do(ctx, http.MethodGet, c.searchURL(name), cookieHeader, nil, "")
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	var response searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode asset search response: %w", err)
	}

	if len(response.Items) == 0 {
		return "", classify.New(
			classify.KindPortal,
			fmt.Sprintf("Failed to find asset id for \"%s\". See debug logs for more information.", name),
			false,
			"Ensure the asset exists in portal.cfx.re and that the name is correct.",
		)
	}

	for _, item := range response.Items {
		if item.Name == name {
			return strconv.FormatInt(item.ID, 10), nil
		}
		c.logger.Debugf("Skipping asset %d (%s): name is not an exact match", item.ID, item.Name)
	}

	return "", classify.New(
		classify.KindPortal,
		fmt.Sprintf("Failed to find asset id for \"%s\" exact match. See debug logs for more information.", name),
		false,
		"Use assetId directly or provide the exact portal asset name.",
	)
}

// StartReupload opens the server-side upload session for the asset.
func (c *Client) StartReupload(ctx context.Context, request ReuploadRequest, cookieHeader string) error {
	body, err := json.Marshal(reuploadRequestBody{
		ChunkCount:       request.ChunkCount,
		ChunkSize:        request.ChunkSize,
		Name:             request.FileName,
		OriginalFileName: request.FileName,
		TotalSize:        request.TotalSize,
	})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoints.assetURL(c.endpoints.ReuploadPath, request.AssetID), cookieHeader, body, "application/json")
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	var response reuploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("decode re-upload response: %w", err)
	}

	if hasErrors(response.Errors) {
		c.logger.Debugf("Re-upload session errors: %s", string(response.Errors))
		return classify.New(
			classify.KindUpload,
			"Failed to start re-upload session.",
			false,
			"Inspect portal response in debug logs and verify asset permissions.",
		)
	}

	return nil
}

// UploadChunk sends one chunk of the artifact as a multipart form.
func (c *Client) UploadChunk(ctx context.Context, assetID string, index int, data []byte, cookieHeader string) error {
	body, contentType, err := chunkForm(index, data)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoints.assetURL(c.endpoints.UploadChunkPath, assetID), cookieHeader, body, contentType)
	if err != nil {
		return err
	}
	c.closeBody(resp.Body)
	return nil
}

// CompleteUpload finalizes the upload session.
func (c *Client) CompleteUpload(ctx context.Context, assetID, cookieHeader string) error {
	resp, err := c.do(ctx, http.MethodPost, c.endpoints.assetURL(c.endpoints.CompleteUploadPath, assetID), cookieHeader, []byte("{}"), "application/json")
	if err != nil {
		return err
	}
	c.closeBody(resp.Body)
	return nil
}

func (c *Client) searchURL(name string) string {
	return fmt.Sprintf("%s%s?search=%s&sort=asset.name&direction=asc", c.endpoints.BaseURL, c.endpoints.SearchPath, url.QueryEscape(name))
}

// do sends the request and returns the response of a 2xx status. The caller closes the body.
func (c *Client) do(ctx context.Context, method, requestURL, cookieHeader string, body []byte, contentType string) (*http.Response, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, rawBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", cookieHeader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))
	if contentType == "application/json" {
		c.logger.Debugf("Request body: %s", string(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer c.closeBody(resp.Body)
		httpErr := unwrapError(resp)
		c.logger.Debugf("Response: %s", httpErr)
		return nil, httpErr
	}

	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func chunkForm(index int, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("chunk_id", strconv.Itoa(index)); err != nil {
		return nil, "", err
	}
	// CreateFormFile sets Content-Type: application/octet-stream.
	part, err := writer.CreateFormFile("chunk", "blob")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

// hasErrors reports whether the re-upload response carried a non-empty errors value.
func hasErrors(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}":
		return false
	default:
		return true
	}
}
