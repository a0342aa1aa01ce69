package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dfsportal/internal/types"
)

// LicenseWarningWindow matches the database stats source.
const LicenseWarningWindow = 30 * 24 * time.Hour

// BackendClientConfig holds the configuration for creating a BackendClient.
type BackendClientConfig struct {
	BaseURL string
	APIKey  string
	// UserAgent identifies this build to the backend; empty uses a generic one.
	UserAgent string
	Location  *time.Location // day boundaries for "today" counters; nil means UTC
	Clock     types.Clock
	Logger    *slog.Logger
}

// BackendClient reads aggregate counts from the hosted backend's REST API.
// Counts are requested with HEAD and Prefer: count=exact so no rows are
// transferred; the total comes back in Content-Range.
type BackendClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	loc     *time.Location
	clock   types.Clock
	logger  *slog.Logger
}

// NewBackendClient creates a BackendClient using its own BaseClient.
func NewBackendClient(httpClient *http.Client, cfg BackendClientConfig) *BackendClient {
	ua := cfg.UserAgent
	if ua == "" {
		ua = "DFSPortal"
	}
	return NewBackendClientWithBase(NewBaseClient(httpClient, "backend", DefaultRetryPolicy(), ua), cfg)
}

// NewBackendClientWithBase creates a BackendClient with a pre-configured
// BaseClient.
func NewBackendClientWithBase(base *BaseClient, cfg BackendClientConfig) *BackendClient {
	c := &BackendClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		loc:     cfg.Location,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.clock == nil {
		c.clock = types.SystemClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Count returns the number of rows in table matching filter, which uses the
// backend's column=op.value query syntax.
func (c *BackendClient) Count(ctx context.Context, table string, filter url.Values) (int, error) {
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(filter) > 0 {
		u += "?" + filter.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build backend request", err)
	}
	req.Header.Set("Prefer", "count=exact")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeUpstreamBackend,
			fmt.Sprintf("backend count on %s returned %d", table, resp.StatusCode), nil,
			map[string]any{"table": table, "status": resp.StatusCode})
	}

	n, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamBackend,
			fmt.Sprintf("backend count on %s has no usable total", table), err)
	}
	return n, nil
}

// parseContentRangeTotal extracts the total from "0-24/573" or "*/573".
func parseContentRangeTotal(h string) (int, error) {
	if h == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}
	_, total, ok := strings.Cut(h, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("content range %q carries no total", h)
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("content range %q has an invalid total", h)
	}
	return n, nil
}

// FetchStats returns a fresh dashboard snapshot. The five counts are
// requested concurrently; any failure fails the snapshot. RequestID is left
// for the poller to stamp.
func (c *BackendClient) FetchStats(ctx context.Context) (types.StatsSnapshot, error) {
	now := c.clock.Now()
	local := now.In(c.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var snap types.StatsSnapshot
	counts := []struct {
		dest   *int
		table  string
		filter url.Values
	}{
		{&snap.Employees, "employees", url.Values{"active": {"eq.true"}}},
		{&snap.SalesReportsToday, "sales_reports", url.Values{"report_date": {"eq." + dayStart.Format(time.DateOnly)}}},
		{&snap.PendingDeliveries, "deliveries", url.Values{"status": {"eq.pending"}}},
		{&snap.LicensesExpiring, "licenses", url.Values{"expires_at": {
			"gte." + now.UTC().Format(time.RFC3339),
			"lt." + now.Add(LicenseWarningWindow).UTC().Format(time.RFC3339),
		}}},
		{&snap.SMSSentToday, "sms_messages", url.Values{"sent_at": {
			"gte." + dayStart.UTC().Format(time.RFC3339),
			"lt." + dayEnd.UTC().Format(time.RFC3339),
		}}},
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, q := range counts {
		g.Go(func() error {
			n, err := c.Count(gCtx, q.table, q.filter)
			if err != nil {
				return err
			}
			*q.dest = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.WarnContext(ctx, "backend stats fetch failed", "error", err)
		return types.StatsSnapshot{}, err
	}

	snap.FetchedAt = now
	return snap, nil
}
