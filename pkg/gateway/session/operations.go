package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/codec"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/envelope"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/paginate"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/upsert"
)

// Create inserts records, which may span object types. An empty batch is a
// no-op; more than core.MaxBatch records is rejected before any request.
func (s *Session) Create(ctx context.Context, records []core.Record) (*core.Result, error) {
	if len(records) == 0 {
		return &core.Result{Kind: core.KindCreate}, nil
	}
	call, err := envelope.Create(records)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, call, false)
}

// Update modifies records, which may span object types.
func (s *Session) Update(ctx context.Context, records []core.Record) (*core.Result, error) {
	if len(records) == 0 {
		return &core.Result{Kind: core.KindUpdate}, nil
	}
	call, err := envelope.Update(records)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, call, false)
}

// Delete removes records by record number. Key lists longer than
// core.MaxBatch go out in sequential chunks; a failing chunk reports indexes
// relative to the whole key list and everything deleted before it.
func (s *Session) Delete(ctx context.Context, object string, keys []string) (*core.Result, error) {
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	keys = envelope.SplitKeys(strings.Join(keys, ","))
	out := &core.Result{Kind: core.KindDelete}
	if len(keys) == 0 {
		return out, nil
	}
	for offset := 0; offset < len(keys); offset += core.MaxBatch {
		end := min(offset+core.MaxBatch, len(keys))
		call, err := envelope.Delete(object, keys[offset:end])
		if err != nil {
			return nil, err
		}
		res, err := s.do(ctx, call, false)
		if err != nil {
			var rf *core.RemoteFailure
			if errors.As(err, &rf) && offset > 0 {
				rf.FailedIndex += offset
				rf.Committed = append(append([]core.Record(nil), out.Correct...), rf.Committed...)
			}
			return nil, err
		}
		out.Correct = append(out.Correct, res.Correct...)
	}
	return out, nil
}

// DeleteAll removes up to max records of object.
func (s *Session) DeleteAll(ctx context.Context, object, keyField string, max int) (*core.Result, error) {
	return s.DeleteByQuery(ctx, object, "", keyField, max)
}

// DeleteByQuery removes up to max records of object matching query. keyField
// must be RECORDNO or id; records are selected with "<keyField> > 0".
func (s *Session) DeleteByQuery(ctx context.Context, object, query, keyField string, max int) (*core.Result, error) {
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	if !strings.EqualFold(keyField, "RECORDNO") && !strings.EqualFold(keyField, "id") {
		return nil, fmt.Errorf("%w: key field must be RECORDNO or id, got %q", core.ErrArgument, keyField)
	}
	where := keyField + " > 0"
	if q := strings.TrimSpace(query); q != "" {
		where += " and " + q
	}
	page, err := s.readAll(ctx, paginate.Query{
		Object:     object,
		Where:      where,
		Fields:     keyField,
		PageSize:   s.opts.PageSize,
		MaxRecords: max,
		Format:     core.FormatRecords,
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(page.Records))
	for _, r := range page.Records {
		if k := fieldFold(r, keyField); k != "" {
			keys = append(keys, k)
		}
	}
	s.log.Info("deleting records", "object", object, "count", len(keys))
	return s.Delete(ctx, object, keys)
}

// Upsert creates candidates of object that do not exist yet (matched on
// nameField) and updates the rest. The create step runs first; if it fails
// the update step is skipped. A failure of either step reports the failing
// candidate position and every record committed so far, creates first.
func (s *Session) Upsert(ctx context.Context, object string, candidates []core.Record, opts upsert.Options) (*core.UpsertResult, error) {
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	if strings.TrimSpace(opts.NameField) == "" {
		return nil, fmt.Errorf("%w: name field is required", core.ErrArgument)
	}
	if len(candidates) > core.MaxBatch {
		return nil, fmt.Errorf("%w: upsert accepts at most %d records, got %d", core.ErrLimitExceeded, core.MaxBatch, len(candidates))
	}
	if len(candidates) == 0 {
		return &core.UpsertResult{}, nil
	}

	var existing []core.Record
	if where, ok := upsert.LookupQuery(object, candidates, opts.NameField); ok {
		page, err := s.readAll(ctx, paginate.Query{
			Object:     object,
			Where:      where,
			Fields:     upsert.LookupFields(opts),
			PageSize:   s.opts.PageSize,
			MaxRecords: core.DefaultMaxRecords,
			Format:     core.FormatRecords,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert lookup: %w", err)
		}
		existing = alignFields(page.Records, opts.NameField, opts.KeyField)
	}

	plan, err := upsert.Build(object, candidates, existing, opts)
	if err != nil {
		return nil, err
	}
	var created, updated []core.Record
	if len(plan.ToCreate) > 0 {
		res, err := s.Create(ctx, plan.ToCreate)
		if err != nil {
			return nil, candidateFailure(err, plan.CreateAt, nil)
		}
		created = res.Correct
	}
	if len(plan.ToUpdate) > 0 {
		res, err := s.Update(ctx, plan.ToUpdate)
		if err != nil {
			return nil, candidateFailure(err, plan.UpdateAt, created)
		}
		updated = res.Correct
	}
	merged := upsert.Merge(created, updated)
	return &merged, nil
}

// Read fetches records by key. No keys reads what the gateway allows in one reply.
func (s *Session) Read(ctx context.Context, object string, keys []string, fields string) (*core.Payload, error) {
	call, err := envelope.Read(object, keys, fields, s.opts.Format)
	if err != nil {
		return nil, err
	}
	return s.readOnce(ctx, call)
}

// ReadByName fetches records by name.
func (s *Session) ReadByName(ctx context.Context, object string, names []string, fields string) (*core.Payload, error) {
	call, err := envelope.ReadByName(object, names, fields, s.opts.Format)
	if err != nil {
		return nil, err
	}
	return s.readOnce(ctx, call)
}

// ReadRelated fetches records related to keys; without relation it is Read.
func (s *Session) ReadRelated(ctx context.Context, object string, keys []string, relation, fields string) (*core.Payload, error) {
	call, err := envelope.ReadRelated(object, keys, relation, fields, s.opts.Format)
	if err != nil {
		return nil, err
	}
	return s.readOnce(ctx, call)
}

// ReadByQuery runs query and pages through the result up to max records
// (core.DefaultMaxRecords when max <= 0).
func (s *Session) ReadByQuery(ctx context.Context, object, query, fields string, max int) (*core.Payload, error) {
	page, err := s.readAll(ctx, paginate.Query{
		Object:     object,
		Where:      query,
		Fields:     fields,
		PageSize:   s.opts.PageSize,
		MaxRecords: max,
		Format:     s.opts.Format,
	})
	if err != nil {
		return nil, err
	}
	return s.payload(page.Records, page.Table)
}

// Inspect describes object's fields; detail returns full descriptors.
func (s *Session) Inspect(ctx context.Context, object string, detail bool) (*core.ObjectMetadata, error) {
	call, err := envelope.Inspect(object, detail)
	if err != nil {
		return nil, err
	}
	res, err := s.do(ctx, call, false)
	if err != nil {
		return nil, err
	}
	return res.Metadata, nil
}

// Invoke sends caller supplied function XML. With multiFunction the body
// holds several <function> elements. Records of the named objects found in
// the reply are decoded into Correct; Raw carries the reply.
func (s *Session) Invoke(ctx context.Context, body string, multiFunction bool, objects ...string) (*core.Result, error) {
	call, err := envelope.Invoke(body, objects...)
	if err != nil {
		return nil, err
	}
	res, err := s.do(ctx, call, multiFunction)
	if err != nil {
		return nil, err
	}
	res.Raw = s.LastResponse()
	return res, nil
}

func (s *Session) readOnce(ctx context.Context, call envelope.Call) (*core.Payload, error) {
	res, err := s.do(ctx, call, false)
	if err != nil {
		return nil, err
	}
	if s.opts.Format == core.FormatTable {
		t, err := tabular.Parse(res.Read.Raw)
		if err != nil {
			return nil, err
		}
		return s.payload(nil, t)
	}
	return s.payload(res.Read.Records, nil)
}

func (s *Session) payload(records []core.Record, table *tabular.Table) (*core.Payload, error) {
	p := &core.Payload{Format: s.opts.Format}
	switch s.opts.Format {
	case core.FormatTable:
		if table == nil {
			table = tabular.FromRecords(records)
		}
		p.Table = table.String()
	case core.FormatMarkup:
		markup, err := codec.Encode(records)
		if err != nil {
			return nil, err
		}
		p.Markup = markup
	default:
		p.Records = records
	}
	return p, nil
}

// readAll runs one paginated read. The whole readByQuery/readMore sequence
// holds pageMu: a second readByQuery would reset the gateway's cursor.
func (s *Session) readAll(ctx context.Context, q paginate.Query) (*paginate.Page, error) {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()
	return paginate.ReadAll(ctx, pageFetcher{s: s}, q)
}

type pageFetcher struct {
	s *Session
}

func (f pageFetcher) Query(ctx context.Context, q paginate.Query, pageSize int) (*core.ReadResult, error) {
	call, err := envelope.ReadByQuery(q.Object, q.Where, q.Fields, pageSize, q.Format)
	if err != nil {
		return nil, err
	}
	res, err := f.s.do(ctx, call, false)
	if err != nil {
		return nil, err
	}
	return res.Read, nil
}

func (f pageFetcher) More(ctx context.Context, q paginate.Query) (*core.ReadResult, error) {
	call, err := envelope.ReadMore(q.Object, q.Format)
	if err != nil {
		return nil, err
	}
	res, err := f.s.do(ctx, call, false)
	if err != nil {
		return nil, err
	}
	return res.Read, nil
}

// candidateFailure restates a failed upsert step against the candidate list:
// the index becomes a candidate position and records committed by earlier
// steps come first.
func candidateFailure(err error, at []int, earlier []core.Record) error {
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) {
		return err
	}
	if rf.FailedIndex >= 0 && rf.FailedIndex < len(at) {
		rf.FailedIndex = at[rf.FailedIndex]
	}
	if len(earlier) > 0 {
		rf.Committed = append(append([]core.Record(nil), earlier...), rf.Committed...)
	}
	return err
}

// fieldFold reads a field by name ignoring case; the gateway upper-cases
// field names in query replies.
func fieldFold(r core.Record, name string) string {
	if v := r.Text(name); v != "" {
		return v
	}
	for k := range r.Fields {
		if strings.EqualFold(k, name) {
			return r.Text(k)
		}
	}
	return ""
}

// alignFields renames fields of records to the caller's spelling of names,
// so query replies match regardless of case.
func alignFields(records []core.Record, names ...string) []core.Record {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		fields := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		for _, name := range names {
			if name == "" {
				continue
			}
			if _, ok := fields[name]; ok {
				continue
			}
			for k, v := range r.Fields {
				if strings.EqualFold(k, name) {
					fields[name] = v
					break
				}
			}
		}
		out = append(out, core.NewRecord(r.Object, fields))
	}
	return out
}
