package cloudcontrol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/gookit/goutil"
)

const (
	apiVersion      = "2.4"
	defaultPageSize = 250

	responseInProgress = "IN_PROGRESS"
	responseOK         = "OK"
	responseNotFound   = "RESOURCE_NOT_FOUND"
)

// APIObserver receives one sample per API round trip
type APIObserver interface {
	ObserveAPICall(operation string, status int, duration time.Duration)
}

// Config holds the connection settings for a CloudControl account
type Config struct {
	UserID string
	Key    string
	Region string

	// BaseURL overrides the region host, e.g. for a private endpoint
	BaseURL string

	VerifySSL  bool
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration

	Logger   *logger.Logger
	Observer APIObserver
}

// DefaultConfig returns connection defaults for region
func DefaultConfig(userID, key, region string) Config {
	return Config{
		UserID:     userID,
		Key:        key,
		Region:     region,
		VerifySSL:  true,
		Timeout:    60 * time.Second,
		RetryCount: 3,
		RetryWait:  2 * time.Second,
	}
}

// APIError is the error body CloudControl returns for rejected calls
type APIError struct {
	Operation    string `json:"operation"`
	ResponseCode string `json:"responseCode"`
	ErrMessage   string `json:"message"`
	RequestID    string `json:"requestId"`
	HTTPStatus   int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (http %d, request %s)", e.ResponseCode, e.ErrMessage, e.HTTPStatus, e.RequestID)
	}
	return fmt.Sprintf("%s: %s (http %d)", e.ResponseCode, e.ErrMessage, e.HTTPStatus)
}

// Client talks to one CloudControl region on behalf of one organization
type Client struct {
	http     *resty.Client
	logger   *logger.Logger
	observer APIObserver

	mu    sync.Mutex
	orgID string
}

// NewClient creates a client; the organization id is discovered lazily
func NewClient(cfg Config) (*Client, error) {
	if cfg.UserID == "" || cfg.Key == "" {
		return nil, errors.NewConfigError("user_id and key are required for CloudControl", nil)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		region, err := LookupRegion(cfg.Region)
		if err != nil {
			return nil, err
		}
		baseURL = "https://" + region.Host
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.UserID, cfg.Key).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ddcloud").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(retryable).
		SetRetryAfter(retryAfter)

	if !cfg.VerifySSL {
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Client{
		http:     httpClient,
		logger:   log.WithComponent("cloudcontrol"),
		observer: cfg.Observer,
	}, nil
}

// Only idempotent reads are retried; a repeated deployServer would create a second node.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
}

func retryAfter(_ *resty.Client, r *resty.Response) (time.Duration, error) {
	if r == nil {
		return 0, nil
	}
	if header := r.Header().Get("Retry-After"); header != "" {
		if secs, err := goutil.ToInt(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second, nil
		}
	}
	return 0, nil
}

// OrgID returns the organization id, fetching it from the account endpoint once
func (c *Client) OrgID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.orgID != "" {
		return c.orgID, nil
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/xml").
		Get("/oec/0.9/myaccount")
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	c.record(ctx, "myaccount", http.MethodGet, "/oec/0.9/myaccount", status, time.Since(start))

	if err != nil {
		return "", errors.NewAPIError(errors.ErrCodeNetworkError, "failed to reach CloudControl", true, err)
	}
	if resp.IsError() {
		return "", errors.NewAPIError(errors.ErrCodeAPI,
			fmt.Sprintf("account lookup failed with http %d", resp.StatusCode()), false, nil)
	}

	var account struct {
		XMLName xml.Name `xml:"Account"`
		OrgID   string   `xml:"orgId"`
	}
	if err := xml.Unmarshal(resp.Body(), &account); err != nil {
		return "", errors.NewAPIError(errors.ErrCodeAPIDecode, "failed to decode account response", false, err)
	}
	if account.OrgID == "" {
		return "", errors.NewAPIError(errors.ErrCodeAPIDecode, "account response carries no orgId", false, nil)
	}

	c.orgID = account.OrgID
	return c.orgID, nil
}

func (c *Client) caasPath(ctx context.Context, path string) (string, error) {
	org, err := c.OrgID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/caas/%s/%s/%s", apiVersion, org, strings.TrimLeft(path, "/")), nil
}

func (c *Client) get(ctx context.Context, op, path string, query map[string]string, out any) error {
	full, err := c.caasPath(ctx, path)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(out).
		SetError(&APIError{})
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	start := time.Now()
	resp, err := req.Get(full)
	return c.finish(ctx, op, http.MethodGet, full, resp, err, start)
}

func (c *Client) post(ctx context.Context, op, path string, body any) (*response, error) {
	full, err := c.caasPath(ctx, path)
	if err != nil {
		return nil, err
	}

	out := &response{}
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		SetError(&APIError{}).
		Post(full)
	if err := c.finish(ctx, op, http.MethodPost, full, resp, err, start); err != nil {
		return nil, err
	}

	if out.ResponseCode != responseInProgress && out.ResponseCode != responseOK {
		return nil, toDomainError(&APIError{
			Operation:    out.Operation,
			ResponseCode: out.ResponseCode,
			ErrMessage:   out.Message,
			RequestID:    out.RequestID,
			HTTPStatus:   resp.StatusCode(),
		})
	}
	return out, nil
}

func (c *Client) finish(ctx context.Context, op, method, path string, resp *resty.Response, err error, start time.Time) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	c.record(ctx, op, method, path, status, time.Since(start))

	if resp != nil && resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil || apiErr.ResponseCode == "" {
			apiErr = &APIError{ResponseCode: http.StatusText(status), ErrMessage: strings.TrimSpace(string(resp.Body()))}
		}
		apiErr.HTTPStatus = status
		return toDomainError(apiErr)
	}

	if err != nil {
		if status > 0 {
			return errors.NewAPIError(errors.ErrCodeAPIDecode, "failed to decode "+op+" response", false, err)
		}
		return errors.NewAPIError(errors.ErrCodeNetworkError, op+" request failed", true, err)
	}

	return nil
}

func (c *Client) record(ctx context.Context, op, method, path string, status int, d time.Duration) {
	c.logger.APICall(ctx, method, path, status, d, "operation", op)
	if c.observer != nil {
		c.observer.ObserveAPICall(op, status, d)
	}
}

func toDomainError(e *APIError) error {
	switch {
	case e.ResponseCode == responseNotFound || e.HTTPStatus == http.StatusNotFound:
		return errors.NewNotFoundError(e.ErrMessage, e)
	case e.HTTPStatus == http.StatusTooManyRequests:
		return errors.NewAPIError(errors.ErrCodeRateLimit, e.ErrMessage, true, e)
	case e.HTTPStatus >= 500:
		return errors.NewAPIError(errors.ErrCodeAPI, e.ErrMessage, true, e)
	default:
		return errors.NewAPIError(errors.ErrCodeAPI, e.ErrMessage, false, e)
	}
}

// listAll walks a paged list endpoint collecting the array stored under key
func listAll[T any](ctx context.Context, c *Client, op, path, key string, query map[string]string) ([]T, error) {
	var all []T

	for page := 1; ; page++ {
		q := make(map[string]string, len(query)+2)
		for k, v := range query {
			if v != "" {
				q[k] = v
			}
		}
		q["pageNumber"] = strconv.Itoa(page)
		q["pageSize"] = strconv.Itoa(defaultPageSize)

		var raw map[string]json.RawMessage
		if err := c.get(ctx, op, path, q, &raw); err != nil {
			return nil, err
		}

		var items []T
		if body, ok := raw[key]; ok {
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, errors.NewAPIError(errors.ErrCodeAPIDecode, "failed to decode "+key+" list", false, err)
			}
		}
		all = append(all, items...)

		var info pageInfo
		for field, dst := range map[string]*int{
			"pageNumber": &info.PageNumber,
			"pageCount":  &info.PageCount,
			"totalCount": &info.TotalCount,
			"pageSize":   &info.PageSize,
		} {
			if v, ok := raw[field]; ok {
				_ = json.Unmarshal(v, dst)
			}
		}

		if lastPage(info, len(items), len(all)) {
			return all, nil
		}
	}
}

func lastPage(info pageInfo, got, total int) bool {
	if got == 0 || info.PageSize == 0 {
		return true
	}
	if info.TotalCount > 0 {
		return total >= info.TotalCount
	}
	return got < info.PageSize
}
