package schema

import (
	"context"
	"fmt"

	"github.com/vbonduro/checkin/internal/domain"
	"github.com/vbonduro/checkin/internal/lock"
	"github.com/vbonduro/checkin/internal/tabular"
)

// HeaderStore is the subset of tabular.Store the resolver needs.
type HeaderStore interface {
	HeaderRow(ctx context.Context, table string) ([]string, error)
	AppendHeaderCell(ctx context.Context, table, value string) (int, error)
}

var _ HeaderStore = (tabular.Store)(nil)

// Columns holds the 1-based column indices of one area's three fields.
type Columns struct {
	Status int
	Notes  int
	Photos int
}

// Get returns the column for kind, or 0 for an unknown kind.
func (c Columns) Get(kind domain.FieldKind) int {
	switch kind {
	case domain.KindStatus:
		return c.Status
	case domain.KindNotes:
		return c.Notes
	case domain.KindPhotos:
		return c.Photos
	}
	return 0
}

func (c *Columns) set(kind domain.FieldKind, col int) {
	switch kind {
	case domain.KindStatus:
		c.Status = col
	case domain.KindNotes:
		c.Notes = col
	case domain.KindPhotos:
		c.Photos = col
	}
}

// Resolver finds or creates the column for an (area, kind) pair. Creation is
// serialized per table through a Locker so concurrent submissions never add
// the same header twice.
type Resolver struct {
	store   HeaderStore
	locker  lock.Locker
	created func(table, header string)
}

type Option func(*Resolver)

// WithColumnCreated registers fn to be called after a header is appended.
func WithColumnCreated(fn func(table, header string)) Option {
	return func(r *Resolver) { r.created = fn }
}

func NewResolver(store HeaderStore, locker lock.Locker, opts ...Option) *Resolver {
	r := &Resolver{store: store, locker: locker}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveOrCreate returns the 1-based column for (area, kind) in table,
// appending EncodeHeader(area, kind) when no header decodes to the pair.
func (r *Resolver) ResolveOrCreate(ctx context.Context, table string, area domain.Area, kind domain.FieldKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("invalid field kind %q", kind)
	}

	headers, err := r.store.HeaderRow(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("read header row of %s: %w", table, err)
	}
	if col := FindColumn(headers, area, kind); col > 0 {
		return col, nil
	}

	unlock, err := r.locker.Lock(ctx, lockKey(table))
	if err != nil {
		return 0, fmt.Errorf("lock schema of %s: %w", table, err)
	}
	defer unlock()

	return r.resolveLocked(ctx, table, area, kind)
}

// EnsureColumns resolves all three field columns for area under a single
// lock acquisition when any of them is missing.
func (r *Resolver) EnsureColumns(ctx context.Context, table string, area domain.Area) (Columns, error) {
	headers, err := r.store.HeaderRow(ctx, table)
	if err != nil {
		return Columns{}, fmt.Errorf("read header row of %s: %w", table, err)
	}

	var cols Columns
	missing := false
	for _, kind := range domain.FieldKinds {
		col := FindColumn(headers, area, kind)
		if col == 0 {
			missing = true
		}
		cols.set(kind, col)
	}
	if !missing {
		return cols, nil
	}

	unlock, err := r.locker.Lock(ctx, lockKey(table))
	if err != nil {
		return Columns{}, fmt.Errorf("lock schema of %s: %w", table, err)
	}
	defer unlock()

	for _, kind := range domain.FieldKinds {
		col, err := r.resolveLocked(ctx, table, area, kind)
		if err != nil {
			return Columns{}, err
		}
		cols.set(kind, col)
	}
	return cols, nil
}

// resolveLocked re-reads the header row, since another holder may have added
// the column between the optimistic scan and lock acquisition.
func (r *Resolver) resolveLocked(ctx context.Context, table string, area domain.Area, kind domain.FieldKind) (int, error) {
	headers, err := r.store.HeaderRow(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("read header row of %s: %w", table, err)
	}
	if col := FindColumn(headers, area, kind); col > 0 {
		return col, nil
	}

	header := EncodeHeader(area, kind)
	col, err := r.store.AppendHeaderCell(ctx, table, header)
	if err != nil {
		return 0, fmt.Errorf("append header %s to %s: %w", header, table, err)
	}
	if r.created != nil {
		r.created(table, header)
	}
	return col, nil
}

func lockKey(table string) string {
	return "schema:" + table
}
