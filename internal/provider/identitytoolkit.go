package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	defaultRESTTimeout        = 10 * time.Second

	resetTemplateMask = "notification.sendEmail.resetPasswordTemplate"
	customDomainMask  = "notification.sendEmail.dnsInfo.useCustomDomain"
)

type sendOobCodeRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email"`
}

type googleErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// IdentityToolkitClient calls the Identity Toolkit REST API for the operations
// the Admin SDK does not cover: sending the reset email and editing its template.
type IdentityToolkitClient struct {
	client    *resty.Client
	baseURL   string
	projectID string
}

func NewIdentityToolkitClient(ctx context.Context, baseURL, projectID string, ts oauth2.TokenSource) (*IdentityToolkitClient, error) {
	if ts == nil {
		return nil, fmt.Errorf("token source is required")
	}

	client := resty.NewWithClient(oauth2.NewClient(ctx, ts))
	client.SetTimeout(defaultRESTTimeout)

	return NewIdentityToolkitClientWithClient(baseURL, projectID, client)
}

func NewIdentityToolkitClientWithClient(baseURL, projectID string, client *resty.Client) (*IdentityToolkitClient, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		trimmedURL = defaultIdentityToolkitURL
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid identity toolkit url: %w", err)
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRESTTimeout)
	}
	// Retries belong to the task layer; a retried reset call would send two emails.
	client.SetRetryCount(0)

	return &IdentityToolkitClient{
		client:    client,
		baseURL:   trimmedURL,
		projectID: projectID,
	}, nil
}

// SendPasswordResetEmail asks the platform to email a reset link to one address.
func (c *IdentityToolkitClient) SendPasswordResetEmail(ctx context.Context, email string) error {
	return c.sendOobCode(ctx, "PASSWORD_RESET", email)
}

// SendVerificationEmail asks the platform to email an address confirmation link.
func (c *IdentityToolkitClient) SendVerificationEmail(ctx context.Context, email string) error {
	return c.sendOobCode(ctx, "VERIFY_EMAIL", email)
}

func (c *IdentityToolkitClient) sendOobCode(ctx context.Context, requestType, email string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("identity toolkit client is not initialized")
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/accounts:sendOobCode", c.baseURL, url.PathEscape(c.projectID))
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendOobCodeRequest{RequestType: requestType, Email: email}).
		SetError(&googleErrorEnvelope{}).
		Post(endpoint)

	return classifyResponse(response, err)
}

// UpdatePasswordResetTemplate patches the project's reset email template.
func (c *IdentityToolkitClient) UpdatePasswordResetTemplate(ctx context.Context, tpl ResetTemplate) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("identity toolkit client is not initialized")
	}
	if err := tpl.Validate(); err != nil {
		return err
	}

	sendEmail := map[string]any{
		"resetPasswordTemplate": map[string]any{
			"senderLocalPart":   tpl.SenderLocalPart(),
			"senderDisplayName": tpl.SenderName,
			"replyTo":           tpl.ReplyTo,
			"subject":           tpl.Subject,
			"body":              tpl.Body,
		},
	}
	mask := []string{resetTemplateMask}
	if domainName := strings.TrimSpace(tpl.CustomDomain); domainName != "" {
		sendEmail["dnsInfo"] = map[string]any{
			"customDomain":    domainName,
			"useCustomDomain": true,
		}
		mask = append(mask, customDomainMask)
	}

	endpoint := fmt.Sprintf("%s/admin/v2/projects/%s/config", c.baseURL, url.PathEscape(c.projectID))
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("updateMask", strings.Join(mask, ",")).
		SetBody(map[string]any{"notification": map[string]any{"sendEmail": sendEmail}}).
		SetError(&googleErrorEnvelope{}).
		Patch(endpoint)

	return classifyResponse(response, err)
}

func classifyResponse(response *resty.Response, err error) error {
	if err != nil {
		return &ProviderError{
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &ProviderError{
			Message:   "empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	message := strings.TrimSpace(response.String())
	if envelope, ok := response.Error().(*googleErrorEnvelope); ok && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	return &ProviderError{
		Code:       reasonCode(message),
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
