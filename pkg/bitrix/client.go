// Package bitrix is the REST client for the Bitrix24 CRM: OAuth token
// handling, cursor pagination and the list methods the reports need.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avezor/funnelboard/pkg/models"
	"github.com/avezor/funnelboard/pkg/tracing"
)

// leadSelect is the field set every lead fetch requests.
var leadSelect = []string{
	"ID", "TITLE", "STATUS_ID", "SOURCE_ID", "SOURCE_DESCRIPTION",
	"ASSIGNED_BY_ID", "DATE_CREATE", "CONTACT_ID",
}

// dealSelect is the field set every deal fetch requests.
var dealSelect = []string{
	"ID", "TITLE", "STAGE_ID", "CATEGORY_ID", "OPPORTUNITY",
	"CONTACT_ID", "LEAD_ID", "DATE_CREATE",
}

// ClientConfig bounds how hard the client leans on the portal.
type ClientConfig struct {
	PageSize           int
	MaxLeadOffset      int
	MaxDealOffset      int
	ContactBatchSize   int
	ContactConcurrency int
	Timeout            time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.MaxLeadOffset <= 0 {
		c.MaxLeadOffset = 10000
	}
	if c.MaxDealOffset <= 0 {
		c.MaxDealOffset = 5000
	}
	if c.ContactBatchSize <= 0 {
		c.ContactBatchSize = 50
	}
	if c.ContactConcurrency <= 0 {
		c.ContactConcurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 25 * time.Second
	}
	return c
}

// Client talks to the portal REST API through the token manager.
type Client struct {
	tokens     *TokenManager
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Bitrix24 REST client.
func NewClient(tokens *TokenManager, cfg ClientConfig, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		tokens:     tokens,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("bitrix http status %d: %s", e.status, e.body)
}

// call performs a single REST request with the current access token
// injected into the body.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	method = strings.TrimSpace(method)
	if method == "" {
		return fmt.Errorf("method is empty")
	}

	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["auth"] = c.tokens.AccessToken()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := c.tokens.ClientEndpoint() + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var apiErr APIError
	_ = json.Unmarshal(raw, &apiErr)
	if !apiErr.IsZero() {
		return apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func authExpired(err error) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthExpired()
	}
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.status == http.StatusUnauthorized
	}
	return false
}

// callAuthed wraps call with the refresh-once policy: an expired token
// triggers exactly one refresh and one retry.
func (c *Client) callAuthed(ctx context.Context, method string, params map[string]any, out any) error {
	if c.tokens.AccessToken() == "" {
		if err := c.tokens.Refresh(ctx); err != nil {
			return fmt.Errorf("initial token refresh: %w", err)
		}
	}

	err := c.call(ctx, method, params, out)
	if err == nil || !authExpired(err) {
		return err
	}

	c.logger.Info("bitrix access token expired, refreshing", zap.String("method", method))
	if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("token refresh after expiry: %w", refreshErr)
	}
	return c.call(ctx, method, params, out)
}

// listAll walks a crm.*.list cursor to the end. Records repeated
// across pages are dropped by key. A page without a next cursor but
// filled to the page size means the portal elided the cursor, so the
// walk continues by offset until a short page or the offset cap.
func listAll[T any](ctx context.Context, c *Client, method string, params map[string]any, key func(T) string, maxOffset int) ([]T, error) {
	var all []T
	seen := make(map[string]struct{})
	start := 0

	for {
		page := make(map[string]any, len(params)+1)
		for k, v := range params {
			page[k] = v
		}
		page["start"] = start

		var resp ListResponse[T]
		if err := c.callAuthed(ctx, method, page, &resp); err != nil {
			return nil, fmt.Errorf("%s at offset %d: %w", method, start, err)
		}

		for _, rec := range resp.Result {
			k := key(rec)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			all = append(all, rec)
		}

		if resp.Next != nil {
			start = *resp.Next
		} else if len(resp.Result) == c.cfg.PageSize {
			start += c.cfg.PageSize
		} else {
			break
		}

		if start >= maxOffset {
			c.logger.Warn("pagination offset cap reached",
				zap.String("method", method),
				zap.Int("offset", start),
				zap.Int("records", len(all)))
			break
		}
	}

	return all, nil
}

// FetchLeads loads all leads matching the filter, newest first.
func (c *Client) FetchLeads(ctx context.Context, filter map[string]any) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchLeads")
	defer span.End()

	params := map[string]any{
		"filter": filter,
		"select": leadSelect,
		"order":  map[string]string{"DATE_CREATE": "DESC"},
	}
	records, err := listAll(ctx, c, "crm.lead.list", params,
		func(r leadRecord) string { return r.ID }, c.cfg.MaxLeadOffset)
	if err != nil {
		return nil, err
	}

	leads := make([]models.Lead, 0, len(records))
	for _, r := range records {
		leads = append(leads, r.toDomain())
	}
	c.logger.Info("leads fetched", zap.Int("count", len(leads)))
	return leads, nil
}

// FetchDeals loads all deals matching the filter.
func (c *Client) FetchDeals(ctx context.Context, filter map[string]any) ([]models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchDeals")
	defer span.End()

	params := map[string]any{
		"filter": filter,
		"select": dealSelect,
		"order":  map[string]string{"DATE_CREATE": "DESC"},
	}
	records, err := listAll(ctx, c, "crm.deal.list", params,
		func(r dealRecord) string { return r.ID }, c.cfg.MaxDealOffset)
	if err != nil {
		return nil, err
	}

	deals := make([]models.Deal, 0, len(records))
	for _, r := range records {
		deals = append(deals, r.toDomain())
	}
	c.logger.Info("deals fetched", zap.Int("count", len(deals)))
	return deals, nil
}

// FetchUsers loads the portal user directory.
func (c *Client) FetchUsers(ctx context.Context) ([]models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchUsers")
	defer span.End()

	records, err := listAll(ctx, c, "user.get", map[string]any{},
		func(r userRecord) string { return r.ID }, c.cfg.MaxLeadOffset)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(records))
	for _, r := range records {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// FetchSources loads the lead source dictionary.
func (c *Client) FetchSources(ctx context.Context) ([]Source, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchSources")
	defer span.End()

	params := map[string]any{
		"filter": map[string]string{"ENTITY_ID": "SOURCE"},
	}
	records, err := listAll(ctx, c, "crm.status.list", params,
		func(r statusRecord) string { return r.StatusID }, c.cfg.MaxLeadOffset)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(records))
	for _, r := range records {
		sources = append(sources, Source{ID: r.StatusID, Name: r.Name})
	}
	return sources, nil
}

// FetchLeadStages loads the lead status dictionary.
func (c *Client) FetchLeadStages(ctx context.Context) ([]LeadStage, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchLeadStages")
	defer span.End()

	params := map[string]any{
		"filter": map[string]string{"ENTITY_ID": "STATUS"},
	}
	records, err := listAll(ctx, c, "crm.status.list", params,
		func(r statusRecord) string { return r.StatusID }, c.cfg.MaxLeadOffset)
	if err != nil {
		return nil, err
	}

	stages := make([]LeadStage, 0, len(records))
	for _, r := range records {
		stages = append(stages, LeadStage{ID: r.StatusID, Name: r.Name})
	}
	return stages, nil
}

// FetchLeadsByContacts loads the leads of the given contacts, batching
// contact IDs into the filter and running batches concurrently. The
// result is deduplicated by lead ID.
func (c *Client) FetchLeadsByContacts(ctx context.Context, contactIDs []string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "bitrix.Client.FetchLeadsByContacts")
	defer span.End()

	unique := make([]string, 0, len(contactIDs))
	seen := make(map[string]struct{}, len(contactIDs))
	for _, id := range contactIDs {
		if id == "" || id == "0" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		all []models.Lead
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ContactConcurrency)

	for i := 0; i < len(unique); i += c.cfg.ContactBatchSize {
		batch := unique[i:min(i+c.cfg.ContactBatchSize, len(unique))]
		g.Go(func() error {
			leads, err := c.FetchLeads(gctx, map[string]any{"CONTACT_ID": batch})
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, leads...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	deduped := make([]models.Lead, 0, len(all))
	seenLeads := make(map[string]struct{}, len(all))
	for _, lead := range all {
		if _, dup := seenLeads[lead.ID]; dup {
			continue
		}
		seenLeads[lead.ID] = struct{}{}
		deduped = append(deduped, lead)
	}

	c.logger.Info("leads fetched for contacts",
		zap.Int("contacts", len(unique)),
		zap.Int("leads", len(deduped)))
	return deduped, nil
}
