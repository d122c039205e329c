package varonis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// ThreatModelEnumID is the entity model enum listing alert rules.
const ThreatModelEnumID = 5821

// Config configures the Varonis API client.
type Config struct {
	URL      string
	Username string
	Password string
	HTTP     transport.Config

	// RowRetries bounds how often a not-yet-ready row page is re-requested.
	RowRetries    int
	RetryInterval time.Duration

	EnumCacheTTL time.Duration
}

// DefaultConfig returns defaults for everything except URL and credentials.
func DefaultConfig() Config {
	return Config{
		HTTP:          transport.DefaultConfig(),
		RowRetries:    2,
		RetryInterval: time.Second,
		EnumCacheTTL:  10 * time.Minute,
	}
}

// Client talks to the DatAdvantage REST API.
type Client struct {
	baseURL  string
	http     *transport.ResilientClient
	auth     *Authenticator
	enums    *expirable.LRU[int, json.RawMessage]
	rowRetry transport.RetryPolicy
	logger   zerolog.Logger
}

// NewClient builds a client for cfg.URL. All requests go to
// <url>/DatAdvantage; credentials are exchanged over NTLM.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	rt := cfg.HTTP.Transport
	if rt == nil {
		rt = transport.NewBaseTransport(cfg.HTTP.InsecureSkipVerify)
	}
	cfg.HTTP.Transport = ntlmssp.Negotiator{RoundTripper: rt}

	ttl := cfg.EnumCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	baseURL := strings.TrimRight(cfg.URL, "/") + "/DatAdvantage"
	httpClient := transport.NewResilientClient(cfg.HTTP, logger)

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		auth:    NewAuthenticator(baseURL, cfg.Username, cfg.Password, httpClient, logger),
		enums:   expirable.NewLRU[int, json.RawMessage](16, nil, ttl),
		rowRetry: transport.RetryPolicy{
			Statuses:   []int{http.StatusNotModified, http.StatusMethodNotAllowed},
			MaxRetries: cfg.RowRetries,
			Interval:   cfg.RetryInterval,
		},
		logger: logger,
	}
}

// Authenticate forces a token exchange.
func (c *Client) Authenticate(ctx context.Context) error {
	c.auth.Invalidate()
	_, err := c.auth.Header(ctx)
	return err
}

// GetEnum returns the raw entries of an entity model enum. Results are
// cached per enum ID.
func (c *Client) GetEnum(ctx context.Context, id int) (json.RawMessage, error) {
	if raw, ok := c.enums.Get(id); ok {
		return raw, nil
	}

	var raw json.RawMessage
	path := "/api/entitymodel/enum/" + strconv.Itoa(id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw, nil); err != nil {
		return nil, fmt.Errorf("failed to get enum %d: %w", id, err)
	}
	c.enums.Add(id, raw)
	return raw, nil
}

// ThreatModels returns the alert rule enum.
func (c *Client) ThreatModels(ctx context.Context) ([]domain.ThreatModel, error) {
	raw, err := c.GetEnum(ctx, ThreatModelEnumID)
	if err != nil {
		return nil, err
	}
	var models []domain.ThreatModel
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("failed to decode threat model enum: %w", err)
	}
	return models, nil
}

// SearchLocation is one entry of a search response: where a kind of result
// data can be fetched from.
type SearchLocation struct {
	Location string `json:"location"`
	DataType string `json:"dataType"`
}

// ExecuteSearch submits a query and returns the result locations.
func (c *Client) ExecuteSearch(ctx context.Context, q domain.Query) ([]SearchLocation, error) {
	var out []SearchLocation
	if err := c.do(ctx, http.MethodPost, "/api/search/v2/search", nil, q, &out, nil); err != nil {
		return nil, fmt.Errorf("search %s failed: %w", q.Entity(), err)
	}
	return out, nil
}

// SearchRows is the positional payload behind a "rows" location.
type SearchRows struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// GetSearchResult fetches a row page. The API answers 304 or 405 while the
// result is still being prepared; those are retried within the row budget.
func (c *Client) GetSearchResult(ctx context.Context, location string, count int) (*SearchRows, error) {
	path := "/api/search/" + strings.TrimPrefix(location, "/")
	var out SearchRows
	if err := c.do(ctx, http.MethodGet, path, QueryRange(count), nil, &out, &c.rowRetry); err != nil {
		return nil, fmt.Errorf("failed to get search result: %w", err)
	}
	return &out, nil
}

// AlertsRequest selects alerts for the incident feed.
type AlertsRequest struct {
	ThreatModels []string
	Severity     string
	StatusID     int
	FromAlertID  int64
	BulkSize     int
	StartTime    time.Time
}

func (r AlertsRequest) values() url.Values {
	v := url.Values{}
	if len(r.ThreatModels) > 0 {
		v.Set("threatModels", strings.Join(r.ThreatModels, ","))
	}
	if r.Severity != "" {
		v.Set("severity", r.Severity)
	}
	if r.StatusID > 0 {
		v.Set("status", strconv.Itoa(r.StatusID))
	}
	v.Set("fromAlertId", strconv.FormatInt(r.FromAlertID, 10))
	if r.BulkSize > 0 {
		v.Set("bulkSize", strconv.Itoa(r.BulkSize))
	}
	if !r.StartTime.IsZero() {
		v.Set("startTime", r.StartTime.UTC().Format(time.RFC3339))
	}
	return v
}

// GetAlerts returns alerts with a sequence ID above FromAlertID.
func (c *Client) GetAlerts(ctx context.Context, r AlertsRequest) ([]domain.Alert, error) {
	var raw []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/alert/alert/GetXsoarAlerts", r.values(), nil, &raw, nil); err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	return decodeAlerts(raw)
}

// StatusUpdate is the body of SetStatusToAlerts.
type StatusUpdate struct {
	AlertGUIDs    []string `json:"AlertGuids"`
	CloseReasonID int      `json:"closeReasonId"`
	StatusID      int      `json:"statusId"`
}

// SetStatusToAlerts changes the status of the given alerts.
func (c *Client) SetStatusToAlerts(ctx context.Context, u StatusUpdate) error {
	if err := c.do(ctx, http.MethodPost, "/api/alert/alert/SetStatusToAlerts", nil, u, nil, nil); err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	return nil
}

// QueryRange returns the paging window for the first count rows, or nil for
// count 0 (the server default).
func QueryRange(count int) url.Values {
	if count <= 0 {
		return nil
	}
	return url.Values{
		"from": {"0"},
		"to":   {strconv.Itoa(count - 1)},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, policy *transport.RetryPolicy) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	header, err := c.auth.Header(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	if policy != nil {
		resp, err = c.http.DoWithRetry(req, *policy)
	} else {
		resp, err = c.http.Do(req)
	}
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrUnauthorized) {
			c.auth.Invalidate()
		}
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeAlerts maps the named-field alert objects into records. Scalar
// values arrive as strings, numbers or booleans depending on the field, so
// they are normalized to strings first.
func decodeAlerts(raw []map[string]any) ([]domain.Alert, error) {
	alerts := make([]domain.Alert, 0, len(raw))
	for i, obj := range raw {
		seq, err := seqID(obj["AlertSeqId"])
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i, err)
		}
		delete(obj, "AlertSeqId")

		data, err := json.Marshal(stringify(obj))
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i, err)
		}
		var a domain.Alert
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("alert %d: %w", i, err)
		}
		a.SeqID = seq
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func seqID(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(t, 10, 64)
	case nil:
		return 0, fmt.Errorf("missing AlertSeqId")
	default:
		return 0, fmt.Errorf("unexpected AlertSeqId type %T", v)
	}
}

func stringify(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringify(val)
		}
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := stringify(item).(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return t
	}
}
