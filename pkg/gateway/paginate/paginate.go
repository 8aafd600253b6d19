// Package paginate drives readByQuery/readMore until a query is exhausted or
// the record cap is reached.
package paginate

import (
	"context"
	"fmt"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
)

// Fetcher issues the two page requests. Each returns the reconciled read
// section, or the reconciler's error.
type Fetcher interface {
	Query(ctx context.Context, q Query, pageSize int) (*core.ReadResult, error)
	More(ctx context.Context, q Query) (*core.ReadResult, error)
}

// Query describes a paginated read.
type Query struct {
	Object string
	Where  string
	Fields string

	// PageSize defaults to core.DefaultPageSize and never exceeds MaxRecords.
	PageSize int
	// MaxRecords defaults to core.DefaultMaxRecords.
	MaxRecords int

	Format core.Format
}

// Page is the accumulated result. Table is set for the tabular format,
// Records otherwise.
type Page struct {
	Records []core.Record
	Table   *tabular.Table

	// Calls is the number of page requests issued.
	Calls int
}

// Len is the number of records or rows accumulated.
func (p *Page) Len() int {
	if p.Table != nil {
		return p.Table.Len()
	}
	return len(p.Records)
}

// Limits resolves the effective page size and record cap.
func (q Query) Limits() (pageSize, max int) {
	max = q.MaxRecords
	if max <= 0 {
		max = core.DefaultMaxRecords
	}
	pageSize = q.PageSize
	if pageSize <= 0 {
		pageSize = core.DefaultPageSize
	}
	if pageSize > max {
		pageSize = max
	}
	return pageSize, max
}

// ReadAll fetches pages while the last page was full, the cap is not reached,
// and the gateway has not said nothing remains. A failing page discards
// everything accumulated so far.
func ReadAll(ctx context.Context, f Fetcher, q Query) (*Page, error) {
	if q.Object == "" {
		return nil, fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	pageSize, max := q.Limits()

	page := &Page{}
	if q.Format == core.FormatTable {
		page.Table = &tabular.Table{}
	}

	last, err := f.Query(ctx, q, pageSize)
	page.Calls++
	if err != nil {
		return nil, err
	}
	n, err := page.add(last)
	if err != nil {
		return nil, err
	}
	total := n

	for n == pageSize && total < max && !exhausted(last) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last, err = f.More(ctx, q)
		page.Calls++
		if err != nil {
			return nil, err
		}
		if n, err = page.add(last); err != nil {
			return nil, err
		}
		total += n
	}

	page.truncate(max)
	return page, nil
}

func exhausted(rr *core.ReadResult) bool {
	return rr != nil && rr.RemainingKnown && !rr.HasMore
}

func (p *Page) add(rr *core.ReadResult) (int, error) {
	if rr == nil {
		return 0, nil
	}
	if p.Table != nil {
		t, err := tabular.Parse(rr.Raw)
		if err != nil {
			return 0, err
		}
		if err := p.Table.Append(t); err != nil {
			return 0, err
		}
		return t.Len(), nil
	}
	p.Records = append(p.Records, rr.Records...)
	return len(rr.Records), nil
}

func (p *Page) truncate(max int) {
	if p.Table != nil {
		p.Table.Truncate(max)
		return
	}
	if len(p.Records) > max {
		p.Records = p.Records[:max]
	}
}
