// Package dnc checks leads against the store's do-not-contact entries.
//
// Lookups run with bounded concurrency and fail open: a failed lookup is
// logged and counted and the record is treated as contactable. Matched
// records are marked with leadstatus "DNC" and contactable records without a
// status get "New"; callers choose whether to drop matches from the commit.
package dnc

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
	"leadetl/internal/storage"
)

const (
	// Status is written to leadstatus on matched records.
	Status = "DNC"
	// NewStatus fills an empty leadstatus on contactable records.
	NewStatus = "New"
)

// Lookup reports whether a normalized email or phone is on a DNC list.
type Lookup interface {
	IsDNC(ctx context.Context, kind, value string) (bool, error)
}

// Match is one record found on a DNC list.
type Match struct {
	Index  int          `json:"index"`
	Fields []lead.Field `json:"fields"`
	Record lead.Record  `json:"record"`
}

// Stats are the DNC counters sent along with a commit.
type Stats struct {
	Total        int `json:"total"`
	Checked      int `json:"checked"`
	Matches      int `json:"matches"`
	EmailMatches int `json:"email_matches"`
	PhoneMatches int `json:"phone_matches"`
	LookupErrors int `json:"lookup_errors"`
}

// Result holds every record in input order, with matched records marked, plus
// the matches themselves. Contactable holds only the unmatched records.
type Result struct {
	Records     []lead.Record `json:"records"`
	Contactable []lead.Record `json:"contactable"`
	Matches     []Match       `json:"matches"`
	Stats       Stats         `json:"stats"`
}

// Checker runs DNC lookups against Store.
type Checker struct {
	Store       Lookup
	Concurrency int
}

type outcome struct {
	fields  []lead.Field
	checked bool
	errs    int
}

// Check looks up every record's email and phone. Input records are not
// modified. The only error returned is ctx cancellation.
func (c *Checker) Check(ctx context.Context, records []lead.Record) (Result, error) {
	res := Result{Stats: Stats{Total: len(records)}}
	outcomes := make([]outcome, len(records))

	limit := c.Concurrency
	if limit <= 0 {
		limit = dedupe.DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, rec := range records {
		email := dedupe.NormalizeEmail(rec[string(lead.Email)])
		phone := dedupe.NormalizePhone(rec[string(lead.Phone)])
		if email == "" && phone == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = c.lookup(gctx, i, email, phone)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("dnc: lookups: %w", err)
	}

	res.Records = make([]lead.Record, len(records))
	for i, rec := range records {
		o := outcomes[i]
		if o.checked {
			res.Stats.Checked++
		}
		res.Stats.LookupErrors += o.errs
		if len(o.fields) == 0 {
			if strings.TrimSpace(lead.ToString(rec[string(lead.LeadStatus)])) == "" {
				rec = rec.Clone()
				rec[string(lead.LeadStatus)] = NewStatus
			}
			res.Records[i] = rec
			res.Contactable = append(res.Contactable, rec)
			continue
		}
		marked := rec.Clone()
		marked[string(lead.LeadStatus)] = Status
		res.Records[i] = marked
		res.Matches = append(res.Matches, Match{Index: i, Fields: o.fields, Record: marked})
		res.Stats.Matches++
		for _, f := range o.fields {
			switch f {
			case lead.Email:
				res.Stats.EmailMatches++
			case lead.Phone:
				res.Stats.PhoneMatches++
			}
		}
	}
	return res, nil
}

func (c *Checker) lookup(ctx context.Context, i int, email, phone string) outcome {
	o := outcome{checked: true}
	keys := []struct {
		field lead.Field
		kind  string
		value string
	}{
		{lead.Email, storage.DNCEmail, email},
		{lead.Phone, storage.DNCPhone, phone},
	}
	for _, k := range keys {
		if k.value == "" {
			continue
		}
		hit, err := c.Store.IsDNC(ctx, k.kind, k.value)
		if err != nil {
			log.Printf("dnc: lookup failed row=%d kind=%s err=%v", i+1, k.kind, err)
			o.errs++
			continue
		}
		if hit {
			o.fields = append(o.fields, k.field)
		}
	}
	return o
}
