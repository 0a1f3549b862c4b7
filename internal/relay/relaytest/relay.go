// Package relaytest provides a minimal in-process Nostr relay speaking
// enough of the REQ/EVENT/OK/EOSE protocol for integration tests and for
// wotd's --dev-relay mode. Events are held in memory only.
package relaytest

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is an http.Handler that upgrades connections to WebSocket and
// serves stored events. Unknown frames are ignored rather than dropping
// the connection.
type Relay struct {
	// Reject, when set, vetoes incoming events; a non-empty return value
	// is sent back as the rejection reason.
	Reject func(*nostr.Event) string

	mu     sync.Mutex
	events []*nostr.Event
	byID   map[string]bool
	conns  map[*conn]bool
}

type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex // guards writes and subs
	subs map[string]nostr.Filters
}

// New creates an empty Relay.
func New() *Relay {
	return &Relay{
		byID:  make(map[string]bool),
		conns: make(map[*conn]bool),
	}
}

// Seed stores events directly, bypassing signature checks, and delivers
// them to live subscriptions. Tests use it to stage relay state.
func (r *Relay) Seed(events ...*nostr.Event) {
	for _, ev := range events {
		r.store(ev)
	}
}

// Events returns a copy of everything stored, in arrival order.
func (r *Relay) Events() []*nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*nostr.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Subscriptions returns the number of open subscriptions across all
// connections. Tests use it to wait until a subscriber is listening
// before seeding live events.
func (r *Relay) Subscriptions() int {
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	n := 0
	for _, c := range conns {
		c.mu.Lock()
		n += len(c.subs)
		c.mu.Unlock()
	}
	return n
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("relaytest: upgrade error: %v", err)
		return
	}
	c := &conn{ws: ws, subs: make(map[string]nostr.Filters)}

	r.mu.Lock()
	r.conns[c] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, c)
		r.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("relaytest: read error: %v", err)
			}
			return
		}
		r.handleFrame(c, data)
	}
}

func (r *Relay) handleFrame(c *conn, data []byte) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) == 0 {
		return
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(arr) < 2 {
			return
		}
		var ev nostr.Event
		if err := json.Unmarshal(arr[1], &ev); err != nil {
			return
		}
		r.handleEvent(c, &ev)

	case "REQ":
		if len(arr) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return
		}
		var filters nostr.Filters
		for _, raw := range arr[2:] {
			var f nostr.Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				return
			}
			filters = append(filters, f)
		}
		r.handleReq(c, subID, filters)

	case "CLOSE":
		if len(arr) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return
		}
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
	}
}

func (r *Relay) handleEvent(c *conn, ev *nostr.Event) {
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		c.send("OK", ev.ID, false, "invalid: bad signature")
		return
	}
	if r.Reject != nil {
		if reason := r.Reject(ev); reason != "" {
			c.send("OK", ev.ID, false, reason)
			return
		}
	}

	r.mu.Lock()
	duplicate := r.byID[ev.ID]
	r.mu.Unlock()
	if duplicate {
		c.send("OK", ev.ID, true, "duplicate: already have this event")
		return
	}

	r.store(ev)
	c.send("OK", ev.ID, true, "")
}

func (r *Relay) handleReq(c *conn, subID string, filters nostr.Filters) {
	// Register the live subscription before snapshotting so no event can
	// fall between the stored replay and the broadcast path. A client may
	// see an event twice; it never misses one.
	c.mu.Lock()
	c.subs[subID] = filters
	c.mu.Unlock()

	r.mu.Lock()
	stored := make([]*nostr.Event, len(r.events))
	copy(stored, r.events)
	r.mu.Unlock()

	for _, ev := range match(stored, filters) {
		c.send("EVENT", subID, ev)
	}
	c.send("EOSE", subID)
}

// store saves the event and delivers it to every live matching
// subscription.
func (r *Relay) store(ev *nostr.Event) {
	r.mu.Lock()
	if r.byID[ev.ID] {
		r.mu.Unlock()
		return
	}
	r.byID[ev.ID] = true
	r.events = append(r.events, ev)
	conns := make([]*conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		for subID, filters := range c.subs {
			if filters.Match(ev) {
				c.sendLocked("EVENT", subID, ev)
			}
		}
		c.mu.Unlock()
	}
}

// match applies each filter, honouring its limit over newest-first order,
// and unions the results by event id in arrival order.
func match(stored []*nostr.Event, filters nostr.Filters) []*nostr.Event {
	selected := make(map[string]bool)
	for _, f := range filters {
		var hits []*nostr.Event
		for _, ev := range stored {
			if f.Matches(ev) {
				hits = append(hits, ev)
			}
		}
		if f.Limit > 0 && len(hits) > f.Limit {
			sort.SliceStable(hits, func(i, j int) bool {
				return hits[i].CreatedAt > hits[j].CreatedAt
			})
			hits = hits[:f.Limit]
		}
		for _, ev := range hits {
			selected[ev.ID] = true
		}
	}

	var out []*nostr.Event
	for _, ev := range stored {
		if selected[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

func (c *conn) send(items ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(items...)
}

func (c *conn) sendLocked(items ...interface{}) {
	data, err := json.Marshal(items)
	if err != nil {
		log.Printf("relaytest: marshal error: %v", err)
		return
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("relaytest: write error: %v", err)
	}
}
