// Package healthapi fetches vitals history and labeled sleep stages from a
// wearable vendor's HTTP API.
//
// Endpoints (all GET, RFC 3339 start/end query parameters, bearer auth):
//
//	/v1/samples/heart_rate        {"data": [{"time", "value"}]}
//	/v1/samples/hrv               {"data": [{"time", "value"}]}
//	/v1/samples/respiratory_rate  {"data": [{"time", "value"}]}
//	/v1/sleep/stages              {"data": [{"startTime", "endTime", "stage"}]}
package healthapi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"sleepstage/adapters/jsonexport"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/config"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// Client is a VitalsSource over the vendor API.
type Client struct {
	http   *resty.Client
	logger *internal.Logger
}

var _ ports.VitalsSource = (*Client)(nil)

// NewClient creates a client from cfg.
func NewClient(cfg config.HealthAPIConfig, logger *internal.Logger) *Client {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		http.SetAuthToken(cfg.Token)
	}
	return &Client{http: http, logger: logger}
}

func (c *Client) FetchHeartRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	return c.samples(ctx, stage.KindHeartRate, start, end)
}

func (c *Client) FetchHRVSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	return c.samples(ctx, stage.KindHRV, start, end)
}

func (c *Client) FetchRespiratoryRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	return c.samples(ctx, stage.KindRespiratoryRate, start, end)
}

func (c *Client) FetchSleepStageIntervals(ctx context.Context, start, end time.Time) ([]stage.Interval, error) {
	data, err := c.get(ctx, "/v1/sleep/stages", start, end)
	if err != nil {
		return nil, errors.Wrap(err, "fetching sleep stages")
	}
	out := jsonexport.Intervals(data)
	c.logger.Debug("[HealthAPI] %d stage intervals in [%s, %s)", len(out), start.Format(time.RFC3339), end.Format(time.RFC3339))
	return out, nil
}

func (c *Client) samples(ctx context.Context, kind stage.SampleKind, start, end time.Time) ([]stage.Sample, error) {
	data, err := c.get(ctx, "/v1/samples/"+string(kind), start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s samples", kind)
	}
	out := jsonexport.Samples(data, "value")
	c.logger.Debug("[HealthAPI] %d %s samples", len(out), kind)
	return out, nil
}

// get performs the request and returns the "data" array.
func (c *Client) get(ctx context.Context, path string, start, end time.Time) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"start": start.UTC().Format(time.RFC3339),
			"end":   end.UTC().Format(time.RFC3339),
		}).
		Get(path)
	if err != nil {
		c.logger.Error("[HealthAPI] GET %s failed: %v", path, err)
		return gjson.Result{}, errors.ExternalServiceError("health api", err)
	}
	if resp.IsError() {
		msg := gjson.GetBytes(resp.Body(), "error").String()
		c.logger.Error("[HealthAPI] GET %s returned %d %s", path, resp.StatusCode(), msg)
		return gjson.Result{}, errors.ExternalServiceError("health api", fmt.Errorf("%s: status %d %s", path, resp.StatusCode(), msg))
	}
	data := gjson.GetBytes(resp.Body(), "data")
	if !data.IsArray() {
		return gjson.Result{}, errors.ExternalServiceError("health api", fmt.Errorf("%s: response has no data array", path))
	}
	return data, nil
}
