// Package control implements the control plane: it reconciles the desired
// set of running bridges (enabled endpoints × enabled providers) against
// what is actually running, reacting to a 10s provider-config poll, an
// fsnotify nudge on the config file, and pub/sub "update" events.
package control

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/calobozan/mcpbridge/internal/bridge"
	"github.com/calobozan/mcpbridge/internal/providerconfig"
	"github.com/calobozan/mcpbridge/internal/pubsub"
	"github.com/calobozan/mcpbridge/internal/store"
)

// pollInterval is the provider-config poll period. This is the source of
// truth for picking up config changes; fsnotify is a latency optimization
// on top of it, never a replacement for it.
const pollInterval = 10 * time.Second

// stopShield bounds how long stopLocked waits for a bridge to actually wind
// down before moving on, so one slow child process (up to killGrace before
// SIGKILL) can't stall an entire reconcile pass behind it.
const stopShield = 2 * time.Second

// key identifies one supervised bridge task.
type key struct {
	endpoint string
	provider string
}

// Controller owns the reconciliation loop.
type Controller struct {
	store        *store.Store
	providerSpec string
	wsToken      string
	httpProxyBin string
	onStatus     bridge.StatusFunc

	mu      sync.Mutex
	running map[key]*runningBridge

	trigger chan struct{}
}

type runningBridge struct {
	sup *bridge.Supervisor
	url string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller. onStatus (may be nil) receives bridge status
// transitions, typically wired to write back into the endpoint store.
func New(st *store.Store, providerSpecPath, wsToken, httpProxyBin string, onStatus bridge.StatusFunc) *Controller {
	return &Controller{
		store:        st,
		providerSpec: providerSpecPath,
		wsToken:      wsToken,
		httpProxyBin: httpProxyBin,
		onStatus:     onStatus,
		running:      map[key]*runningBridge{},
		trigger:      make(chan struct{}, 1),
	}
}

// Nudge requests an out-of-cycle reconciliation pass. Multiple nudges
// before the pass runs are coalesced into one.
func (c *Controller) Nudge() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run blocks, reconciling on a timer, on fsnotify events, and whenever
// Nudge is called (e.g. from a pub/sub "update" event), until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	c.reconcile()

	watcher, err := fsnotify.NewWatcher()
	var watchEvents <-chan fsnotify.Event
	if err != nil {
		log.Printf("control: fsnotify unavailable, relying on poll only: %v", err)
	} else {
		defer watcher.Close()
		dir := filepath.Dir(c.providerSpec)
		if err := watcher.Add(dir); err != nil {
			log.Printf("control: watch %s: %v", dir, err)
		} else {
			watchEvents = watcher.Events
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			return
		case <-ticker.C:
			c.reconcile()
		case <-c.trigger:
			c.reconcile()
		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(c.providerSpec) {
				c.reconcile()
			}
		}
	}
}

// OnPubSubUpdate wires a pubsub.Update event into a reconciliation nudge.
// The pass token (an opaque correlation id) is logged for observability;
// the actual reconciliation always recomputes the full desired set rather
// than applying the event surgically, which is what makes repeated nudges
// safe to coalesce.
func (c *Controller) OnPubSubUpdate(upd pubsub.Update) {
	passID := uuid.NewString()
	log.Printf("control: pass %s triggered by %s for endpoint %s", passID, upd.Action, upd.Endpoint.Name)
	c.Nudge()
}

func (c *Controller) reconcile() {
	endpoints, err := c.store.ListEndpoints()
	if err != nil {
		log.Printf("control: list endpoints: %v", err)
		return
	}

	doc, err := providerconfig.Load(c.providerSpec)
	if err != nil {
		log.Printf("control: load provider spec: %v", err)
		return
	}

	desired, desiredURL := desiredSet(endpoints, doc)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stop anything no longer desired, or whose endpoint URL changed
	// (retargeting requires a fresh connection).
	for k, rb := range c.running {
		if _, stillDesired := desired[k]; stillDesired && rb.url == desiredURL[k] {
			continue
		}
		c.stopLocked(k)
	}

	// Start anything newly desired.
	for k, entry := range desired {
		if _, ok := c.running[k]; ok {
			continue
		}
		c.startLocked(k, entry, desiredURL[k])
	}
}

// desiredSet computes the cross product of enabled endpoints × enabled
// providers: the bridge keys that should be running right now.
func desiredSet(endpoints []*store.Endpoint, doc *providerconfig.Document) (map[key]providerconfig.Entry, map[key]string) {
	desired := map[key]providerconfig.Entry{}
	desiredURL := map[key]string{}
	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		for name, entry := range doc.MCPServers {
			if entry.Disabled {
				continue
			}
			k := key{endpoint: ep.Name, provider: name}
			desired[k] = entry
			desiredURL[k] = ep.URL
		}
	}
	return desired, desiredURL
}

func (c *Controller) startLocked(k key, entry providerconfig.Entry, endpointURL string) {
	task := bridge.Task{
		EndpointName: k.endpoint,
		EndpointURL:  endpointURL,
		Provider:     k.provider,
		Entry:        entry,
		WSToken:      c.wsToken,
		HTTPProxyBin: c.httpProxyBin,
	}

	sup := bridge.New(task, c.onStatus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.running[k] = &runningBridge{sup: sup, url: endpointURL, cancel: cancel, done: done}

	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	log.Printf("control: started bridge %s/%s", k.endpoint, k.provider)
}

func (c *Controller) stopLocked(k key) {
	rb, ok := c.running[k]
	if !ok {
		return
	}
	rb.cancel()
	go rb.sup.Stop()

	select {
	case <-rb.done:
		log.Printf("control: stopped bridge %s/%s", k.endpoint, k.provider)
	case <-time.After(stopShield):
		log.Printf("control: bridge %s/%s still winding down after %s, proceeding without waiting further", k.endpoint, k.provider, stopShield)
	}
	delete(c.running, k)
}

func (c *Controller) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.running {
		c.stopLocked(k)
	}
}
