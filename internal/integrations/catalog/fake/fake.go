package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/models"
)

var manufacturers = []models.Manufacturer{
	{Name: "Roberts Space Industries", Code: "RSI", Slug: "rsi"},
	{Name: "Anvil Aerospace", Code: "ANVL", Slug: "anvil"},
	{Name: "Drake Interplanetary", Code: "DRAK", Slug: "drake"},
	{Name: "Aegis Dynamics", Code: "AEGS", Slug: "aegis"},
	{Name: "Origin Jumpworks", Code: "ORIG", Slug: "origin"},
}

var sizes = []string{"snub", "small", "medium", "large", "capital"}

// Generate builds n deterministic catalog records. The same n always yields
// the same records, so repeated runs over a fake catalog are idempotent.
func Generate(n int) []models.CatalogRecord {
	out := make([]models.CatalogRecord, 0, n)
	for i := 1; i <= n; i++ {
		h := fnv.New32a()
		_, _ = fmt.Fprintf(h, "ship|%d", i)
		v := h.Sum32()

		m := manufacturers[v%uint32(len(manufacturers))]
		slug := fmt.Sprintf("%s-ship-%03d", m.Slug, i)
		out = append(out, models.CatalogRecord{
			ExternalID:     fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
			Slug:           slug,
			Name:           fmt.Sprintf("%s Ship %03d", m.Code, i),
			Manufacturer:   m,
			Classification: []string{"combat", "transport", "exploration", "industrial"}[v%4],
			Size:           sizes[(v/7)%uint32(len(sizes))],
			Images: map[string]string{
				"thumb": "https://img.fleet.local/" + slug + "/thumb.jpg",
			},
		})
	}
	return out
}

// Catalog: детерминированный каталог в памяти. Используется, когда
// catalog.base_url не задан, и в тестах (можно заскриптовать падения страниц).
type Catalog struct {
	mu       sync.Mutex
	records  []models.CatalogRecord
	failures map[int][]error
	calls    map[int]int
	retry    catalog.RetryPolicy
}

func New(records ...models.CatalogRecord) *Catalog {
	return &Catalog{
		records:  records,
		failures: make(map[int][]error),
		calls:    make(map[int]int),
		retry:    catalog.RetryPolicy{MaxAttempts: 1},
	}
}

// WithRetry makes FetchPage retry scripted failures the way the HTTP client does.
func (c *Catalog) WithRetry(p catalog.RetryPolicy) *Catalog {
	c.retry = p
	return c
}

func (c *Catalog) SetRecords(records []models.CatalogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = records
}

// FailPage scripts the next attempts on page: the i-th attempt returns errs[i].
// Once the script is consumed the page answers normally.
func (c *Catalog) FailPage(page int, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[page] = append(c.failures[page], errs...)
}

// Attempts reports how many times page was requested.
func (c *Catalog) Attempts(page int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[page]
}

func (c *Catalog) FetchPage(ctx context.Context, page, pageSize int) (*catalog.Page, error) {
	p, attempts, err := catalog.Retry(ctx, c.retry, func(ctx context.Context, _ int) (*catalog.Page, error) {
		return c.fetchOnce(ctx, page, pageSize)
	}, nil)
	if err != nil {
		return nil, &catalog.PageError{Page: page, Attempts: attempts, Err: err}
	}
	return p, nil
}

func (c *Catalog) fetchOnce(ctx context.Context, page, pageSize int) (*catalog.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, catalog.ErrTimeout{Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[page]++
	if script := c.failures[page]; len(script) > 0 {
		c.failures[page] = script[1:]
		if script[0] != nil {
			return nil, script[0]
		}
	}

	if pageSize <= 0 {
		pageSize = len(c.records)
	}
	start := (page - 1) * pageSize
	if start < 0 || start > len(c.records) {
		start = len(c.records)
	}
	end := start + pageSize
	if end > len(c.records) {
		end = len(c.records)
	}

	out := &catalog.Page{Number: page, HasMore: end < len(c.records)}
	for i := start; i < end; i++ {
		rec := c.records[i]
		if err := rec.Validate(); err != nil {
			out.Records = append(out.Records, catalog.RecordResult{Record: &rec, Err: err})
			continue
		}
		out.Records = append(out.Records, catalog.RecordResult{Record: &rec})
	}
	return out, nil
}
