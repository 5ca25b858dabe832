package httpcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/models"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	PaginationPage   = "page"
	PaginationOffset = "offset"

	maxBodyBytes = 16 << 20
)

// Fields are gjson paths inside a single catalog item.
type Fields struct {
	ExternalID       string
	Slug             string
	Name             string
	ManufacturerName string
	ManufacturerCode string
	ManufacturerSlug string
	Classification   string
	Size             string
	Images           string
}

func DefaultFields() Fields {
	return Fields{
		ExternalID:       "id",
		Slug:             "slug",
		Name:             "name",
		ManufacturerName: "manufacturer.name",
		ManufacturerCode: "manufacturer.code",
		ManufacturerSlug: "manufacturer.slug",
		Classification:   "classification",
		Size:             "size",
		Images:           "images",
	}
}

func (f Fields) withDefaults() Fields {
	d := DefaultFields()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Fields{
		ExternalID:       pick(f.ExternalID, d.ExternalID),
		Slug:             pick(f.Slug, d.Slug),
		Name:             pick(f.Name, d.Name),
		ManufacturerName: pick(f.ManufacturerName, d.ManufacturerName),
		ManufacturerCode: pick(f.ManufacturerCode, d.ManufacturerCode),
		ManufacturerSlug: pick(f.ManufacturerSlug, d.ManufacturerSlug),
		Classification:   pick(f.Classification, d.Classification),
		Size:             pick(f.Size, d.Size),
		Images:           pick(f.Images, d.Images),
	}
}

type Options struct {
	BaseURL string
	Path    string
	APIKey  string

	// Pagination is "page" (page/perPage) or "offset" (offset/limit).
	Pagination string
	PageParam  string
	SizeParam  string
	FirstPage  int

	// ItemsPath locates the item array in the body. Empty means the body
	// itself, then "data", then "items".
	ItemsPath   string
	HasMorePath string
	Fields      Fields

	Timeout time.Duration
	Retry   catalog.RetryPolicy
	Limiter catalog.Limiter

	// OnRetry is called before every repeated attempt.
	OnRetry func(page, attempt int, err error)
}

type Client struct {
	opts  Options
	httpc *http.Client
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:9100"
	}
	if opts.Pagination == "" {
		opts.Pagination = PaginationPage
	}
	if opts.PageParam == "" {
		if opts.Pagination == PaginationOffset {
			opts.PageParam = "offset"
		} else {
			opts.PageParam = "page"
		}
	}
	if opts.SizeParam == "" {
		if opts.Pagination == PaginationOffset {
			opts.SizeParam = "limit"
		} else {
			opts.SizeParam = "perPage"
		}
	}
	if opts.FirstPage <= 0 && opts.Pagination == PaginationPage {
		opts.FirstPage = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = catalog.DefaultRetryPolicy()
	}
	if opts.Limiter == nil {
		opts.Limiter = catalog.NoLimit()
	}
	opts.Fields = opts.Fields.withDefaults()

	return &Client{
		opts:  opts,
		httpc: &http.Client{Timeout: opts.Timeout},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpc = h
	return c
}

// FetchPage fetches page (1-based) of the catalog. Transient failures are
// retried according to the policy; the returned error is always a
// *catalog.PageError.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*catalog.Page, error) {
	p, attempts, err := catalog.Retry(ctx, c.opts.Retry,
		func(ctx context.Context, _ int) (*catalog.Page, error) {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return nil, catalog.ErrTimeout{Err: err}
			}
			return c.fetchOnce(ctx, page, pageSize)
		},
		func(attempt int, delay time.Duration, err error) {
			slog.Warn("catalog page retry", "page", page, "attempt", attempt, "delay", delay, "err", err)
			if c.opts.OnRetry != nil {
				c.opts.OnRetry(page, attempt, err)
			}
		},
	)
	if err != nil {
		return nil, &catalog.PageError{Page: page, Attempts: attempts, Err: err}
	}
	return p, nil
}

func (c *Client) pageURL(page, pageSize int) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	if c.opts.Path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.opts.Path, "/")
	}

	q := u.Query()
	switch c.opts.Pagination {
	case PaginationOffset:
		q.Set(c.opts.PageParam, strconv.Itoa((page-1)*pageSize))
	default:
		q.Set(c.opts.PageParam, strconv.Itoa(c.opts.FirstPage+page-1))
	}
	q.Set(c.opts.SizeParam, strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, page, pageSize int) (*catalog.Page, error) {
	u, err := c.pageURL(page, pageSize)
	if err != nil {
		return nil, catalog.ErrDecode{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, catalog.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, catalog.ErrUnauthorized{StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, catalog.ErrRateLimited{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode/100 != 2:
		return nil, catalog.ErrUpstreamStatus{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, catalog.ClassifyTransport(err)
	}
	if !gjson.ValidBytes(body) {
		return nil, catalog.ErrDecode{Err: fmt.Errorf("page %d: body is not valid json", page)}
	}

	root := gjson.ParseBytes(body)
	items, err := c.items(root)
	if err != nil {
		return nil, err
	}

	out := &catalog.Page{Number: page}
	for _, item := range items {
		out.Records = append(out.Records, c.decodeRecord(item))
	}
	out.HasMore = c.hasMore(root, resp.Header, len(items), pageSize)
	return out, nil
}

func (c *Client) items(root gjson.Result) ([]gjson.Result, error) {
	if c.opts.ItemsPath != "" {
		r := root.Get(c.opts.ItemsPath)
		if !r.Exists() {
			return nil, nil
		}
		if !r.IsArray() {
			return nil, catalog.ErrDecode{Err: fmt.Errorf("%q is not an array", c.opts.ItemsPath)}
		}
		return r.Array(), nil
	}
	if root.IsArray() {
		return root.Array(), nil
	}
	for _, p := range []string{"data", "items"} {
		if r := root.Get(p); r.IsArray() {
			return r.Array(), nil
		}
	}
	return nil, catalog.ErrDecode{Err: errors.New("no item array in catalog response")}
}

func (c *Client) hasMore(root gjson.Result, h http.Header, got, pageSize int) bool {
	if c.opts.HasMorePath != "" {
		if r := root.Get(c.opts.HasMorePath); r.Exists() {
			return r.Bool()
		}
	}
	if links := h.Values("Link"); len(links) > 0 {
		return hasNextLink(links)
	}
	return pageSize > 0 && got >= pageSize
}

func (c *Client) decodeRecord(item gjson.Result) catalog.RecordResult {
	if !item.IsObject() {
		return catalog.RecordResult{Err: &models.ValidationError{Field: "record", Reason: "is not an object"}}
	}
	f := c.opts.Fields
	str := func(path string) string { return strings.TrimSpace(item.Get(path).String()) }

	rec := &models.CatalogRecord{
		ExternalID: str(f.ExternalID),
		Slug:       str(f.Slug),
		Name:       str(f.Name),
		Manufacturer: models.Manufacturer{
			Name: str(f.ManufacturerName),
			Code: str(f.ManufacturerCode),
			Slug: str(f.ManufacturerSlug),
		},
		Classification: str(f.Classification),
		Size:           str(f.Size),
		Raw:            json.RawMessage(item.Raw),
	}
	if imgs := item.Get(f.Images); imgs.IsObject() {
		rec.Images = make(map[string]string)
		imgs.ForEach(func(k, v gjson.Result) bool {
			if s := strings.TrimSpace(v.String()); s != "" {
				rec.Images[k.String()] = s
			}
			return true
		})
	}

	if err := rec.Validate(); err != nil {
		return catalog.RecordResult{Record: rec, Err: err}
	}
	return catalog.RecordResult{Record: rec}
}

// hasNextLink looks for rel="next" in RFC 5988 Link headers.
func hasNextLink(values []string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			for _, param := range strings.Split(part, ";")[1:] {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(strings.ToLower(param), "rel=") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(param[4:], `"`)) {
					if strings.EqualFold(rel, "next") {
						return true
					}
				}
			}
		}
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
