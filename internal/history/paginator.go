// Package history loads room history in fixed-size pages and keeps the
// viewport anchored while older pages are prepended.
package history

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/npezzotti/go-estate-chat/internal/reconcile"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

var (
	ErrLoadInFlight = errors.New("older page already loading")
	ErrNoMorePages  = errors.New("no more pages")
	ErrClosed       = errors.New("paginator closed")
	ErrStale        = errors.New("stale page result")
)

// FetchFunc fetches one page of history, newest first.
type FetchFunc func(ctx context.Context, page, size int) (types.Page, error)

type Cursor struct {
	Page     int
	PageSize int
	HasMore  bool
}

type Config struct {
	PageSize int
	// NearTopThreshold is the scroll offset at or below which NearTop
	// starts loading an older page.
	NearTopThreshold int
	Logger           *log.Logger
}

// Ticket is an older-page load that has been started with BeginOlder and
// not yet completed.
type Ticket struct {
	Page int
	Size int
	gen  int
}

type Paginator struct {
	fetch    FetchFunc
	timeline *reconcile.Timeline
	view     Viewport
	log      *log.Logger
	pageSize int
	nearTop  int

	mu       sync.Mutex
	cursor   Cursor
	inFlight bool
	loaded   bool
	closed   bool
	// gen invalidates results that resolve after LoadLatest or Close.
	gen int
}

func NewPaginator(fetch FetchFunc, tl *reconcile.Timeline, view Viewport, cfg Config) *Paginator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Paginator{
		fetch:    fetch,
		timeline: tl,
		view:     view,
		log:      cfg.Logger,
		pageSize: cfg.PageSize,
		nearTop:  cfg.NearTopThreshold,
		cursor:   Cursor{PageSize: cfg.PageSize},
	}
}

// LoadLatest fetches page 0, replaces the display list with it and scrolls
// to the bottom. It resets the cursor, which is what re-entering a room does.
func (p *Paginator) LoadLatest(ctx context.Context) error {
	gen, err := p.BeginLatest()
	if err != nil {
		return err
	}

	page, err := p.fetch(ctx, 0, p.pageSize)
	if err != nil {
		return &types.FetchError{Page: 0, Err: err}
	}

	return p.ApplyLatest(gen, page)
}

// BeginLatest invalidates outstanding loads and returns the generation a
// caller fetching page 0 itself must hand to ApplyLatest.
func (p *Paginator) BeginLatest() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	p.gen++
	p.inFlight = false
	return p.gen, nil
}

// ApplyLatest commits a fetched page 0.
func (p *Paginator) ApplyLatest(gen int, page types.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if gen != p.gen {
		return ErrStale
	}

	p.timeline.Reset(page.Chronological())
	p.cursor = Cursor{
		Page:     0,
		PageSize: p.pageSize,
		HasMore:  hasMore(page, p.pageSize),
	}
	p.loaded = true

	if p.view != nil {
		p.view.Commit(p.timeline.Snapshot())
		p.view.ScrollToBottom()
	}

	return nil
}

// BeginOlder reserves the next older page. At most one older page can be
// outstanding.
func (p *Paginator) BeginOlder() (Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Ticket{}, ErrClosed
	}
	if p.inFlight {
		return Ticket{}, ErrLoadInFlight
	}
	if !p.loaded || !p.cursor.HasMore {
		return Ticket{}, ErrNoMorePages
	}

	p.inFlight = true
	return Ticket{
		Page: p.cursor.Page + 1,
		Size: p.pageSize,
		gen:  p.gen,
	}, nil
}

// Complete applies the outcome of a ticket's fetch. On error the list,
// cursor and HasMore are left as they were.
func (p *Paginator) Complete(t Ticket, page types.Page, fetchErr error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if t.gen != p.gen {
		p.log.Printf("history: dropping stale page %d", t.Page)
		return ErrStale
	}

	p.inFlight = false
	if fetchErr != nil {
		return &types.FetchError{Page: t.Page, Err: fetchErr}
	}

	// The anchor is taken against the list as it stands now, live arrivals
	// included, so only the prepended rows move the content.
	var anchor ScrollMetrics
	if p.view != nil {
		anchor = p.view.Metrics()
		anchor.ContentHeight = p.view.Commit(p.timeline.Snapshot())
	}

	p.timeline.Prepend(page.Chronological())
	p.cursor.Page = t.Page
	p.cursor.HasMore = hasMore(page, p.pageSize)

	if p.view != nil {
		newHeight := p.view.Commit(p.timeline.Snapshot())
		p.view.SetOffset(AnchoredOffset(anchor, newHeight))
	}

	return nil
}

// LoadOlder fetches the next older page and prepends it.
func (p *Paginator) LoadOlder(ctx context.Context) error {
	t, err := p.BeginOlder()
	if err != nil {
		return err
	}

	page, err := p.fetch(ctx, t.Page, t.Size)
	return p.Complete(t, page, err)
}

// NearTop is the scroll hook: it loads an older page when offset is within
// the threshold of the top. Refusals are not errors here.
func (p *Paginator) NearTop(ctx context.Context, offset int) error {
	if offset > p.nearTop {
		return nil
	}

	err := p.LoadOlder(ctx)
	if errors.Is(err, ErrLoadInFlight) || errors.Is(err, ErrNoMorePages) {
		return nil
	}
	return err
}

// Close detaches the paginator from its view; results that resolve later
// are dropped.
func (p *Paginator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.gen++
}

func (p *Paginator) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Paginator) HasMore() bool {
	return p.Cursor().HasMore
}

func (p *Paginator) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// hasMore trusts the server flag when there is one. Otherwise a full page is
// taken to mean older pages exist, which is wrong exactly when the history
// length is a multiple of the page size.
func hasMore(page types.Page, pageSize int) bool {
	if page.HasMore != nil {
		return *page.HasMore
	}
	return len(page.Messages) >= pageSize
}
