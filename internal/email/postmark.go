package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
	backoff     func() retry.Backoff
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBackoff replaces the retry policy for transient Postmark failures.
func WithBackoff(b func() retry.Backoff) Option {
	return func(cl *Client) {
		cl.backoff = b
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendSubscriptionConfirmed tells the clinic owner their paid plan is active.
func (c *Client) SendSubscriptionConfirmed(ctx context.Context, toEmail, clinicName, planName string, priceMonthlyCents int64) error {
	price := formatPrice(priceMonthlyCents)
	link := c.baseURL + "/admin"
	subject := fmt.Sprintf("Your %s subscription is confirmed", planName)
	textBody := fmt.Sprintf(
		"Hi %s,\n\nYour subscription to the %s plan (%s per month) is confirmed.\n\nManage your subscription at any time: %s",
		clinicName, planName, price, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Hi <strong>%s</strong>,</p><p>Your subscription to the <strong>%s</strong> plan (%s per month) is confirmed.</p><p><a href="%s">Manage your subscription</a></p>`,
		html.EscapeString(clinicName), html.EscapeString(planName), price, link,
	)
	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "subscription-confirmed",
	})
}

// SendPaymentFailed asks the clinic owner to update their payment method.
func (c *Client) SendPaymentFailed(ctx context.Context, toEmail, clinicName string) error {
	link := c.baseURL + "/admin"
	subject := "Payment failed for your ClinicOps subscription"
	textBody := fmt.Sprintf(
		"Hi %s,\n\nWe could not collect your latest subscription payment and your account is suspended until it succeeds.\n\nUpdate your payment method: %s",
		clinicName, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Hi <strong>%s</strong>,</p><p>We could not collect your latest subscription payment and your account is suspended until it succeeds.</p><p><a href="%s">Update your payment method</a></p>`,
		html.EscapeString(clinicName), link,
	)
	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "payment-failed",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Postmark-Server-Token", c.serverToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send email: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("postmark API error: status %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
		}
		return nil
	})
}

func formatPrice(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
