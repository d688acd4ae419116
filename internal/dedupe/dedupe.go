// Package dedupe partitions mapped lead records into clean and duplicate sets.
//
// Detection runs in two phases. The intra-file phase walks records in input
// order and flags every record whose normalized email or phone was already
// seen earlier in the same file; the first occurrence always survives. The
// store phase then looks up each surviving record's email in the lead store
// with bounded concurrency. Lookup failures are explicit per-record outcomes;
// by default they fail open (the record stays clean) and are counted.
package dedupe

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"leadetl/internal/lead"
	"leadetl/internal/textutil"
)

// MatchType distinguishes where a duplicate was found.
type MatchType string

const (
	IntraFile     MatchType = "intra-file"
	StoreExisting MatchType = "store-existing"
	// Unverified marks a record held back because its store lookup failed
	// under FailClosed. It is not a duplicate.
	Unverified MatchType = "unverified"
)

// DefaultConcurrency bounds concurrent store lookups.
const DefaultConcurrency = 8

// StoreRecord is an existing lead returned by a store lookup.
type StoreRecord struct {
	ID       string      `json:"id"`
	Snapshot lead.Record `json:"snapshot"`
}

// EmailLookup finds at most one stored lead by normalized email. A nil record
// with a nil error means no match.
type EmailLookup interface {
	FindByEmail(ctx context.Context, email string) (*StoreRecord, error)
}

// PhoneLookup is optionally implemented by stores that can match on phone.
type PhoneLookup interface {
	FindByPhone(ctx context.Context, digits string) (*StoreRecord, error)
}

// Match describes why a record was flagged.
type Match struct {
	Index    int          `json:"index"`
	Type     MatchType    `json:"type"`
	Fields   []lead.Field `json:"fields"`
	Reason   string       `json:"reason"`
	Existing *StoreRecord `json:"existing,omitempty"`
	Record   lead.Record  `json:"record"`
}

// LookupOutcome is the result of one store lookup: either a match (possibly
// nil) or an error, never both. Field is the key that found Match.
type LookupOutcome struct {
	Match *StoreRecord
	Field lead.Field
	Err   error
}

// LookupError records a failed store lookup for one record.
type LookupError struct {
	Index int    `json:"index"`
	Email string `json:"email"`
	Err   string `json:"error"`
}

// Policy selects what happens to a record whose store lookup failed.
type Policy int

const (
	// FailOpen keeps the record in the clean set.
	FailOpen Policy = iota
	// FailClosed moves the record to Result.Unverified.
	FailClosed
)

// Stats are the detection counters.
type Stats struct {
	Total         int `json:"total"`
	Clean         int `json:"clean"`
	Duplicates    int `json:"duplicates"`
	IntraFile     int `json:"intra_file"`
	StoreExisting int `json:"store_existing"`
	EmailMatches  int `json:"email_matches"`
	PhoneMatches  int `json:"phone_matches"`
	LookupErrors  int `json:"lookup_errors"`
	Unverified    int `json:"unverified"`
}

// Result partitions the input. Clean keeps input order and CleanIndexes holds
// each clean record's position in the input.
type Result struct {
	Clean        []lead.Record `json:"clean"`
	CleanIndexes []int         `json:"clean_indexes"`
	Duplicates   []Match       `json:"duplicates"`
	Unverified   []Match       `json:"unverified,omitempty"`
	LookupErrors []LookupError `json:"lookup_errors,omitempty"`
	Stats        Stats         `json:"stats"`
}

// Detector runs both phases. Store may be nil to skip the store phase.
type Detector struct {
	Store       EmailLookup
	Concurrency int
	Policy      Policy
	// CheckStorePhones also queries the store by phone when Store implements
	// PhoneLookup. Off by default.
	CheckStorePhones bool
}

// NormalizeEmail is the comparison key for emails: trimmed and lowercased.
func NormalizeEmail(v any) string {
	return strings.ToLower(strings.TrimSpace(lead.ToString(v)))
}

// NormalizePhone is the comparison key for phones: digits only, with a
// leading US country code removed from 11-digit numbers. Numbers with fewer
// than 10 digits return "" and never match.
func NormalizePhone(v any) string {
	d := textutil.Digits(lead.ToString(v))
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) < 10 {
		return ""
	}
	return d
}

// Detect partitions records. The input slice and its records are not
// modified. The only error returned is ctx cancellation.
func (d *Detector) Detect(ctx context.Context, records []lead.Record) (Result, error) {
	res := Result{Stats: Stats{Total: len(records)}}

	flagged := make([]*Match, len(records))
	d.intraFile(records, flagged)

	var outcomes []LookupOutcome
	if d.Store != nil {
		var err error
		if outcomes, err = d.lookupAll(ctx, records, flagged); err != nil {
			return Result{}, err
		}
	}

	for i, rec := range records {
		if m := flagged[i]; m != nil {
			res.Duplicates = append(res.Duplicates, *m)
			continue
		}
		if outcomes != nil {
			o := outcomes[i]
			if o.Err != nil {
				res.LookupErrors = append(res.LookupErrors, LookupError{
					Index: i,
					Email: NormalizeEmail(rec[string(lead.Email)]),
					Err:   o.Err.Error(),
				})
				if d.Policy == FailClosed {
					res.Unverified = append(res.Unverified, Match{
						Index:  i,
						Type:   Unverified,
						Reason: "store lookup failed: " + o.Err.Error(),
						Record: rec,
					})
					continue
				}
			} else if o.Match != nil {
				res.Duplicates = append(res.Duplicates, d.storeMatch(i, rec, o))
				continue
			}
		}
		res.Clean = append(res.Clean, rec)
		res.CleanIndexes = append(res.CleanIndexes, i)
	}

	res.Stats = computeStats(len(records), res)
	return res, nil
}

// intraFile flags later occurrences of an email or phone already seen. Keys of
// a flagged record are still recorded so chains like A(email) → B(email,
// phone) → C(phone) flag both B and C.
func (d *Detector) intraFile(records []lead.Record, flagged []*Match) {
	seenEmail := map[string]int{}
	seenPhone := map[string]int{}

	for i, rec := range records {
		email := NormalizeEmail(rec[string(lead.Email)])
		phone := NormalizePhone(rec[string(lead.Phone)])

		var (
			fields  []lead.Field
			reasons []string
		)
		if email != "" {
			if first, ok := seenEmail[email]; ok {
				fields = append(fields, lead.Email)
				reasons = append(reasons, fmt.Sprintf("email matches row %d", first+1))
			} else {
				seenEmail[email] = i
			}
		}
		if phone != "" {
			if first, ok := seenPhone[phone]; ok {
				fields = append(fields, lead.Phone)
				reasons = append(reasons, fmt.Sprintf("phone matches row %d", first+1))
			} else {
				seenPhone[phone] = i
			}
		}
		if len(fields) > 0 {
			flagged[i] = &Match{
				Index:  i,
				Type:   IntraFile,
				Fields: fields,
				Reason: "duplicate within file: " + strings.Join(reasons, ", "),
				Record: rec,
			}
		}
	}
}

// lookupAll queries the store for every unflagged record. Results are written
// into a slice slot per record, so no locking is needed.
func (d *Detector) lookupAll(ctx context.Context, records []lead.Record, flagged []*Match) ([]LookupOutcome, error) {
	outcomes := make([]LookupOutcome, len(records))

	limit := d.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	phones := d.phoneLookup()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, rec := range records {
		if flagged[i] != nil {
			continue
		}
		email := NormalizeEmail(rec[string(lead.Email)])
		phone := ""
		if phones != nil {
			phone = NormalizePhone(rec[string(lead.Phone)])
		}
		if email == "" && phone == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			outcomes[i] = d.lookupOne(gctx, i, email, phone, phones)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dedupe: store lookups: %w", err)
	}
	return outcomes, nil
}

func (d *Detector) lookupOne(ctx context.Context, i int, email, phone string, phones PhoneLookup) LookupOutcome {
	if email != "" {
		m, err := d.Store.FindByEmail(ctx, email)
		if err != nil {
			log.Printf("dedupe: store lookup failed row=%d email=%s err=%v", i+1, email, err)
			return LookupOutcome{Err: err}
		}
		if m != nil {
			return LookupOutcome{Match: m, Field: lead.Email}
		}
	}
	if phone != "" {
		m, err := phones.FindByPhone(ctx, phone)
		if err != nil {
			log.Printf("dedupe: store phone lookup failed row=%d err=%v", i+1, err)
			return LookupOutcome{Err: err}
		}
		if m != nil {
			return LookupOutcome{Match: m, Field: lead.Phone}
		}
	}
	return LookupOutcome{}
}

// phoneLookup returns the store's phone index when phone checks are on.
func (d *Detector) phoneLookup() PhoneLookup {
	if !d.CheckStorePhones {
		return nil
	}
	phones, _ := d.Store.(PhoneLookup)
	return phones
}

// storeMatch reports the key that found existing, plus any other queried key
// whose value the stored snapshot shares. Phone is only a queried key when
// phone checks are on.
func (d *Detector) storeMatch(i int, rec lead.Record, o LookupOutcome) Match {
	existing := o.Match
	m := Match{
		Index:    i,
		Type:     StoreExisting,
		Existing: existing,
		Record:   rec,
	}
	key := o.Field
	if key == "" {
		key = lead.Email
	}
	email := NormalizeEmail(rec[string(lead.Email)])
	if key == lead.Email || (email != "" && NormalizeEmail(existing.Snapshot[string(lead.Email)]) == email) {
		m.Fields = append(m.Fields, lead.Email)
	}
	if d.phoneLookup() != nil {
		phone := NormalizePhone(rec[string(lead.Phone)])
		if key == lead.Phone || (phone != "" && NormalizePhone(existing.Snapshot[string(lead.Phone)]) == phone) {
			m.Fields = append(m.Fields, lead.Phone)
		}
	}
	parts := make([]string, len(m.Fields))
	for j, f := range m.Fields {
		parts[j] = string(f)
	}
	m.Reason = fmt.Sprintf("existing lead %s matches on %s", existing.ID, strings.Join(parts, ", "))
	return m
}

func computeStats(total int, r Result) Stats {
	s := Stats{
		Total:        total,
		Clean:        len(r.Clean),
		Duplicates:   len(r.Duplicates),
		LookupErrors: len(r.LookupErrors),
		Unverified:   len(r.Unverified),
	}
	for _, m := range r.Duplicates {
		switch m.Type {
		case IntraFile:
			s.IntraFile++
		case StoreExisting:
			s.StoreExisting++
		}
		for _, f := range m.Fields {
			switch f {
			case lead.Email:
				s.EmailMatches++
			case lead.Phone:
				s.PhoneMatches++
			}
		}
	}
	return s
}
