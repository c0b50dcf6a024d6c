package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MinTimeSpent is the shortest visible interval reported as time_spent.
// Anything shorter is treated as noise.
const MinTimeSpent = 5 * time.Second

// ElementID identifies a rendered element the shell has tagged.
type ElementID string

type regionKind int

const (
	regionItem regionKind = iota + 1
	regionCategory
)

type region struct {
	kind regionKind
	id   string
}

// Capture turns page lifecycle and click signals into events. It never
// talks to the network; every event goes to the Submitter.
type Capture struct {
	mu       sync.Mutex
	out      Submitter
	sessions *SessionManager
	now      Clock

	page         Page
	loc          location
	visible      bool
	visibleSince time.Time

	regions map[ElementID]region
}

// NewCapture wires a capture layer to a session manager and a submitter.
func NewCapture(out Submitter, sessions *SessionManager, now Clock) *Capture {
	if now == nil {
		now = time.Now
	}
	return &Capture{
		out:      out,
		sessions: sessions,
		now:      now,
		regions:  make(map[ElementID]region),
	}
}

// PageLoad records the initial page view and starts the visible timer.
func (c *Capture) PageLoad(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.page = p
	c.loc = parseLocation(p.URL)
	c.visible = true
	c.visibleSince = c.now()

	c.emitLocked(c.pageViewLocked())
}

// Navigate follows a client-side route change: later events are attributed
// to the new path and a page_view is recorded for it. The visible timer keeps
// running.
func (c *Capture) Navigate(rawURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.page.URL = rawURL
	c.loc = parseLocation(rawURL)

	c.emitLocked(c.pageViewLocked())
}

// VisibilityChanged handles the tab being hidden or shown. Hiding closes the
// current visible interval; showing starts a new one.
func (c *Capture) VisibilityChanged(hidden bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hidden {
		c.endVisibleLocked()
		return
	}
	if !c.visible {
		c.visible = true
		c.visibleSince = c.now()
	}
}

// Unload closes the current visible interval before the page goes away.
func (c *Capture) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endVisibleLocked()
}

// RegisterItem tags an element as belonging to a menu item.
func (c *Capture) RegisterItem(el ElementID, itemID string) {
	c.register(el, region{kind: regionItem, id: itemID})
}

// RegisterCategory tags an element as belonging to a category.
func (c *Capture) RegisterCategory(el ElementID, categoryID string) {
	c.register(el, region{kind: regionCategory, id: categoryID})
}

func (c *Capture) register(el ElementID, r region) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions[el] = r
}

// Unregister removes tags for elements that are no longer rendered.
func (c *Capture) Unregister(els ...ElementID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, el := range els {
		delete(c.regions, el)
	}
}

// Click handles a click. chain lists the target element first followed by
// its ancestors. The nearest item wins over any category; a category is
// reported only when no item encloses the target.
func (c *Capture) Click(chain ...ElementID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var category *region
	for _, el := range chain {
		r, ok := c.regions[el]
		if !ok {
			continue
		}
		if r.kind == regionItem {
			c.emitLocked(c.itemViewLocked(r.id))
			return
		}
		if category == nil {
			category = &r
		}
	}

	if category != nil {
		c.emitLocked(c.categoryViewLocked(category.id))
	}
}

// ItemViewed records an item view without a click, e.g. from a deep link.
func (c *Capture) ItemViewed(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(c.itemViewLocked(itemID))
}

// CategoryViewed records a category view without a click.
func (c *Capture) CategoryViewed(categoryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(c.categoryViewLocked(categoryID))
}

func (c *Capture) endVisibleLocked() {
	if !c.visible {
		return
	}
	c.visible = false

	elapsed := c.now().Sub(c.visibleSince)
	if elapsed < MinTimeSpent {
		return
	}

	e := c.baseLocked(TimeSpent)
	e.TimeSpent = int(math.Round(elapsed.Seconds()))
	e.Metadata = &Metadata{Path: c.loc.path}
	c.emitLocked(e)
}

func (c *Capture) pageViewLocked() Event {
	e := c.baseLocked(PageView)
	e.Metadata = &Metadata{
		Path:           c.loc.path,
		Referrer:       c.page.Referrer,
		UserAgent:      c.page.UserAgent,
		ScreenWidth:    c.page.Screen.Width,
		ScreenHeight:   c.page.Screen.Height,
		ViewportWidth:  c.page.Viewport.Width,
		ViewportHeight: c.page.Viewport.Height,
	}
	return e
}

func (c *Capture) itemViewLocked(itemID string) Event {
	e := c.baseLocked(ItemView)
	e.ItemID = itemID
	e.Metadata = &Metadata{Path: c.loc.path}
	return e
}

func (c *Capture) categoryViewLocked(categoryID string) Event {
	e := c.baseLocked(CategoryView)
	e.CategoryID = categoryID
	e.Metadata = &Metadata{Path: c.loc.path}
	return e
}

func (c *Capture) baseLocked(kind EventKind) Event {
	return Event{
		Kind:         kind,
		RestaurantID: c.loc.restaurantID,
		MenuID:       c.loc.menuID,
		SessionID:    c.sessions.ResolveSessionID(),
		Timestamp:    c.now().UTC().Format(timestampLayout),
		UserAgent:    c.page.UserAgent,
	}
}

func (c *Capture) emitLocked(e Event) {
	if e.RestaurantID == "" {
		log.Debug().Str("type", string(e.Kind)).Str("path", c.loc.path).Msg("no restaurant in path, event not recorded")
		return
	}
	c.out.Submit(e)
}
