// Package crm writes custom fields on CRM contacts and opportunities.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://services.leadconnectorhq.com"
	DefaultAPIVersion = "2021-07-28"
)

type ClientOptions struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the CRM.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api: status=%d body=%s", e.Status, e.Body)
}

// Client makes exactly one request per call; retries belong to the caller.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		apiVersion: apiVersion,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Field is one custom field assignment.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type customFieldsBody struct {
	CustomFields []Field `json:"customFields"`
}

// UpdateContactField sets one custom field on a contact.
func (c *Client) UpdateContactField(ctx context.Context, contactID, key, value string) error {
	return c.putCustomFields(ctx, "/contacts/", contactID, []Field{{Key: key, Value: value}})
}

// UpdateContactFields sets several custom fields on a contact in one request.
func (c *Client) UpdateContactFields(ctx context.Context, contactID string, fields []Field) error {
	return c.putCustomFields(ctx, "/contacts/", contactID, fields)
}

// UpdateOpportunityField sets one custom field on an opportunity.
func (c *Client) UpdateOpportunityField(ctx context.Context, opportunityID, key, value string) error {
	return c.putCustomFields(ctx, "/opportunities/", opportunityID, []Field{{Key: key, Value: value}})
}

func (c *Client) putCustomFields(ctx context.Context, resource, id string, fields []Field) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("crm: empty id for %s", strings.Trim(resource, "/"))
	}
	if c.apiKey == "" {
		return fmt.Errorf("crm: api key is not configured")
	}
	if len(fields) == 0 {
		return fmt.Errorf("crm: no fields for %s", strings.Trim(resource, "/"))
	}
	body, err := json.Marshal(customFieldsBody{CustomFields: fields})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + resource + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: put %s: %w", resource+id, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}
