package prom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"

	"node-reporter/internal/model"
)

type Options struct {
	URL     string
	Timeout time.Duration
	Token   string
	TLS     *tls.Config
}

const queryEndpoint = "/api/v1/query"

// Client issues read-only instant queries. It keeps no state between calls
// and never retries.
type Client struct {
	client  api.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus url %q: %w", opts.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("prometheus url %q must be an absolute http(s) url", opts.URL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	var rt http.RoundTripper = api.DefaultRoundTripper
	if opts.TLS != nil {
		if base, ok := api.DefaultRoundTripper.(*http.Transport); ok {
			tr := base.Clone()
			tr.TLSClientConfig = opts.TLS
			rt = tr
		}
	}
	if opts.Token != "" {
		rt = bearerRoundTripper{token: opts.Token, next: rt}
	}

	c, err := api.NewClient(api.Config{Address: opts.URL, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return &Client{client: c, timeout: opts.Timeout, logger: logger}, nil
}

type apiResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType v1.ErrorType    `json:"errorType"`
	Error     string          `json:"error"`
	Warnings  []string        `json:"warnings"`
}

type queryData struct {
	ResultType prommodel.ValueType `json:"resultType"`
	Result     json.RawMessage     `json:"result"`
}

type vectorSample struct {
	Metric prommodel.Metric  `json:"metric"`
	Value  []json.RawMessage `json:"value"`
}

// Query evaluates expr at the given time and returns one Sample per series of
// the resulting vector. A series whose value cannot be parsed is returned
// with a NaN value so aggregation skips it like any other non-numeric sample.
func (c *Client) Query(ctx context.Context, family model.Family, expr string, at time.Time) ([]model.Sample, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	fail := func(kind, err error) error {
		return &model.QueryError{Family: family, Expr: expr, Kind: kind, Err: err}
	}

	form := url.Values{}
	form.Set("query", expr)
	form.Set("timeout", c.timeout.String())
	if !at.IsZero() {
		form.Set("time", strconv.FormatFloat(float64(at.Unix())+float64(at.Nanosecond())/1e9, 'f', -1, 64))
	}
	u := c.client.URL(queryEndpoint, nil)
	req, err := http.NewRequestWithContext(qctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fail(model.ErrQuery, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.client.Do(qctx, req)
	if err != nil {
		return nil, fail(classify(err), err)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fail(model.ErrQuery, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err))
	}
	if ar.Status != "success" {
		return nil, fail(model.ErrQuery, &v1.Error{Type: ar.ErrorType, Msg: ar.Error})
	}
	if resp.StatusCode/100 != 2 {
		return nil, fail(model.ErrQuery, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}
	for _, w := range ar.Warnings {
		c.logger.Warn("prometheus query warning", "family", family, "warning", w)
	}

	out, err := c.decodeVector(family, ar.Data)
	if err != nil {
		return nil, fail(model.ErrQuery, err)
	}
	c.logger.Debug("prometheus query done", "family", family, "samples", len(out))
	return out, nil
}

func (c *Client) decodeVector(family model.Family, raw json.RawMessage) ([]model.Sample, error) {
	var d queryData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if d.ResultType != prommodel.ValVector {
		return nil, fmt.Errorf("unexpected result type %s, want vector", d.ResultType)
	}
	var items []vectorSample
	if err := json.Unmarshal(d.Result, &items); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}

	out := make([]model.Sample, 0, len(items))
	for _, it := range items {
		s := toSample(it.Metric)
		v, err := parseValue(it.Value)
		if err != nil {
			c.logger.Warn("unparseable sample value", "family", family, "labels", s.Labels, "error", err)
			v = math.NaN()
		}
		s.Value = v
		out = append(out, s)
	}
	return out, nil
}

// parseValue reads the [timestamp, "value"] pair of a vector sample.
func parseValue(pair []json.RawMessage) (float64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("want [timestamp, value], got %d elements", len(pair))
	}
	var sv prommodel.SampleValue
	if err := json.Unmarshal(pair[1], &sv); err != nil {
		return 0, err
	}
	return float64(sv), nil
}

// classify separates transport failures from answers the server gave.
func classify(err error) error {
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.ErrConnection
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return model.ErrConnection
	}
	return model.ErrQuery
}

func toSample(m prommodel.Metric) model.Sample {
	labels := make(map[string]string, len(m))
	for k, v := range m {
		if k == prommodel.MetricNameLabel {
			continue
		}
		labels[string(k)] = string(v)
	}
	return model.Sample{
		Metric: string(m[prommodel.MetricNameLabel]),
		Labels: labels,
	}
}

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (b bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}
