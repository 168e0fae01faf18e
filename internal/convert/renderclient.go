package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cfg "github.com/slideguard/slidereview/config"
)

// RenderClient 访问幻灯片渲染服务：上传文档后可以逐页取固定分辨率
// 的图片和该页文本。
type RenderClient struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

type deckInfoResponse struct {
	SlidesCount int    `json:"slidesCount"`
	Error       string `json:"error,omitempty"`
}

type slideTextResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewRenderClient(renderCfg *cfg.RenderConfig) (*RenderClient, error) {
	if renderCfg.Endpoint == "" {
		return nil, fmt.Errorf("render endpoint is not configured")
	}
	return &RenderClient{
		endpoint:  renderCfg.Endpoint,
		authToken: renderCfg.AuthToken,
		httpClient: &http.Client{
			Timeout: renderCfg.CallTimeout,
		},
	}, nil
}

// UploadDeck 上传文档，渲染服务内以 name 引用
func (c *RenderClient) UploadDeck(ctx context.Context, name string, data []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/decks/%s", url.PathEscape(name)), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("failed to upload deck: %w", err)
	}
	return nil
}

// SlideCount 查询页数
func (c *RenderClient) SlideCount(ctx context.Context, name string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/decks/%s/info", url.PathEscape(name)), nil)
	if err != nil {
		return 0, err
	}

	body, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to get deck info: %w", err)
	}

	var info deckInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, fmt.Errorf("failed to decode deck info: %w", err)
	}
	if info.Error != "" {
		return 0, fmt.Errorf("render service error: %s", info.Error)
	}
	return info.SlidesCount, nil
}

// RenderSlide 渲染第 n 页（1 起始）为固定分辨率图片
func (c *RenderClient) RenderSlide(ctx context.Context, name string, n, width, height int, format string) ([]byte, error) {
	path := fmt.Sprintf("/decks/%s/slides/%d/%s?width=%d&height=%d",
		url.PathEscape(name), n, url.PathEscape(format), width, height)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to render slide %d: %w", n, err)
	}
	return body, nil
}

// SlideText 提取第 n 页（1 起始）的文本内容
func (c *RenderClient) SlideText(ctx context.Context, name string, n int) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/decks/%s/slides/%d/text", url.PathEscape(name), n), nil)
	if err != nil {
		return "", err
	}

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get text for slide %d: %w", n, err)
	}

	var resp slideTextResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode slide text: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("render service error: %s", resp.Error)
	}
	return resp.Text, nil
}

// DeleteDeck 删除渲染服务上的临时文档
func (c *RenderClient) DeleteDeck(ctx context.Context, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/decks/%s", url.PathEscape(name)), nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("failed to delete deck: %w", err)
	}
	return nil
}

func (c *RenderClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

func (c *RenderClient) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d after %s: %s",
			resp.StatusCode, time.Since(start).Round(time.Millisecond), string(body))
	}
	return body, nil
}
