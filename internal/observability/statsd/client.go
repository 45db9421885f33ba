// Package statsd emits the processor's loop and item metrics over UDP
// using the tagged StatsD line format, for example:
//
//	healthprocessor.loop.pass:1|c|#result:success,service:drainer
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Prefix namespaces every metric emitted by this process.
const Prefix = "healthprocessor"

// Tag keys shared by every processor metric.
const (
	TagService    = "service"
	TagResult     = "result"
	TagErrorClass = "error_class"
)

// Result tag values for loop passes and per-item outcomes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// ServiceTags builds the base tag set attached to metrics emitted on
// behalf of a background service.
func ServiceTags(service, result string) map[string]string {
	return map[string]string{
		TagService: service,
		TagResult:  result,
	}
}

// Config describes the StatsD endpoint.
type Config struct {
	Enabled bool
	Address string
	Logger  *slog.Logger
}

// Client emits metrics over UDP. It is safe for concurrent use, and a
// nil *Client is a valid no-op sink.
type Client struct {
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	conn    net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured StatsD endpoint unless disabled.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{logger: logger}

	address := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || address == "" {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.conn = conn
	client.enabled = true

	return client, nil
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, strconv.FormatInt(value, 10)+"|c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, formatFloat(value)+"|g", tags)
}

// Timing records a timing metric using milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	if c == nil {
		return
	}
	ms := float64(value) / float64(time.Millisecond)
	c.write(name, formatFloat(ms)+"|ms", tags)
}

// Close releases the underlying UDP connection if one was established.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(name, payload string, tags map[string]string) {
	line := buildLine(name, payload, tags)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.conn == nil {
		return
	}

	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "metric", name, "error", err)
	}
}

// buildLine renders one metric in the tagged StatsD format under the
// process-wide prefix. Empty or all-punctuation names render nothing.
func buildLine(name, payload string, tags map[string]string) string {
	metric := normalizeMetricName(name)
	if metric == "" {
		return ""
	}
	return Prefix + "." + metric + ":" + payload + formatTags(tags)
}

// normalizeMetricName keeps dot-delimited alphanumeric segments and maps
// every other rune to an underscore, so log-derived names such as
// "drainer.item" and "loop/pass" cannot corrupt the line protocol.
func normalizeMetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDot := true // also strips leading dots
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '.':
			if !lastDot {
				b.WriteRune('.')
				lastDot = true
			}
		case r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDot = false
		default:
			b.WriteRune('_')
			lastDot = false
		}
	}
	return strings.Trim(b.String(), ".")
}

// formatTags renders tags sorted by key so identical tag sets always
// produce identical lines.
func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}

	cleaned := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			cleaned[key] = strings.TrimSpace(v)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}

	keys := make([]string, 0, len(cleaned))
	for k := range cleaned {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + ":" + cleaned[k]
	}
	return "|#" + strings.Join(pairs, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
