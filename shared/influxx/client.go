// Package influxx writes ingest counters to InfluxDB v2.
package influxx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tapistry/shared/config"
)

var (
	ErrNotInitialized = errors.New("influx client not initialized")
	ErrUnhealthy      = errors.New("influx server is not ready")
)

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

// New builds a client that writes millisecond-precision, gzip-compressed
// points into INFLUX_BUCKET.
func New(cfg config.Config) (*Client, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"INFLUX_URL", cfg.InfluxURL},
		{"INFLUX_TOKEN", cfg.InfluxToken},
		{"INFLUX_ORG", cfg.InfluxOrg},
		{"INFLUX_BUCKET", cfg.InfluxBucket},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("influx settings missing: %s", strings.Join(missing, ", "))
	}
	opts := influxdb2.DefaultOptions().
		SetPrecision(time.Millisecond).
		SetUseGZip(true)
	if cfg.InfluxTimeoutMS > 0 {
		opts.SetHTTPRequestTimeout(uint(max(cfg.InfluxTimeoutMS/1000, 1)))
	}
	return &Client{
		client: influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts),
		org:    cfg.InfluxOrg,
		bucket: cfg.InfluxBucket,
	}, nil
}

// NewPoint builds a point with a UTC timestamp, defaulting to now. Empty
// tag values are dropped since Influx rejects them.
func NewPoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) *write.Point {
	if ts.IsZero() {
		ts = time.Now()
	}
	clean := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != "" {
			clean[k] = v
		}
	}
	return influxdb2.NewPoint(measurement, clean, fields, ts.UTC())
}

func (c *Client) WritePoints(ctx context.Context, points ...*write.Point) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	if len(points) == 0 {
		return nil
	}
	return c.client.WriteAPIBlocking(c.org, c.bucket).WritePoint(ctx, points...)
}

// Ping reports whether the server answers its health check.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
