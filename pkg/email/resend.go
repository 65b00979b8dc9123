// Package email sends transactional mail through the Resend HTTP API.
package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/pkg/httpclient"
)

const DefaultBaseURL = "https://api.resend.com"

type Config struct {
	APIKey  string
	BaseURL string
	From    string
}

type Attachment struct {
	Filename string `json:"filename"`
	// Content is base64 encoded
	Content string `json:"content"`
}

// NewAttachment base64 encodes data
func NewAttachment(filename string, data []byte) Attachment {
	return Attachment{Filename: filename, Content: base64.StdEncoding.EncodeToString(data)}
}

type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Client posts messages to the Resend emails endpoint
type Client struct {
	http   *httpclient.Client
	cfg    Config
	logger ectologger.Logger
}

func NewClient(httpClient *httpclient.Client, cfg Config, logger ectologger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

// Send delivers msg and returns the provider message id. An empty From uses the configured sender.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("email has no recipients")
	}
	if msg.From == "" {
		msg.From = c.cfg.From
	}

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/emails", map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}, msg)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("resend rejected email to %s: %d %s", strings.Join(msg.To, ","), resp.StatusCode, string(resp.Body))
	}

	var out sendResponse
	if len(resp.Body) > 0 {
		if err := resp.Decode(&out); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("unreadable resend response")
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"email_id": out.ID,
		"to":       strings.Join(msg.To, ","),
	}).Debugf("email sent: %s", msg.Subject)
	return out.ID, nil
}
