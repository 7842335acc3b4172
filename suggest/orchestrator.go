package suggest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callcoach/conversation"
	"callcoach/log"
)

const DefaultTimeout = 20 * time.Second

type Publisher interface {
	PublishSuggestions(b Batch)
	PublishError(msg string)
}

type ContextSource interface {
	SnapshotLast(n int) string
	LastFrom(sp conversation.Speaker) (conversation.Utterance, bool)
}

type OrchestratorConfig struct {
	Service   Service
	Context   ContextSource
	Publisher Publisher
	Playbook  Playbook
	MaxItems  int
	Timeout   time.Duration
	// ContextUtterances limits the rendered context; 0 sends the whole window.
	ContextUtterances int
	// Cooldown is the minimum time between request starts.
	Cooldown   time.Duration
	MinTextLen int
	Now        func() time.Time
}

// Orchestrator runs at most one suggestion request at a time. Triggers that
// arrive while a request is outstanding are dropped.
type Orchestrator struct {
	cfg OrchestratorConfig

	inFlight  atomic.Bool
	current   atomic.Pointer[Batch]
	epoch     atomic.Uint64
	lastStart atomic.Int64

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{cfg: cfg, base: base, cancel: cancel}
}

// Trigger starts a request for a positive decision. It reports false when
// the decision is negative or the trigger was dropped.
func (o *Orchestrator) Trigger(d conversation.TriggerDecision) bool {
	if !d.Fire {
		return false
	}
	stmt, ok := o.lastProspect(d)
	if !ok {
		log.Debugf("suggest: no prospect statement in window, skipping (%s)", d.Reason)
		return false
	}
	text := strings.TrimSpace(stmt.Text)
	if text == "" || len(text) < o.cfg.MinTextLen {
		log.Debugf("suggest: statement too short, skipping")
		return false
	}
	now := o.cfg.Now()
	if o.cfg.Cooldown > 0 {
		if last := o.lastStart.Load(); last != 0 && now.Sub(time.Unix(0, last)) < o.cfg.Cooldown {
			log.Debugf("suggest: cooldown active, dropping trigger")
			return false
		}
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		log.Debugf("suggest: request in flight, dropping trigger (%s)", d.Reason)
		return false
	}
	o.lastStart.Store(now.UnixNano())

	req := Request{
		ConversationContext: o.cfg.Context.SnapshotLast(o.cfg.ContextUtterances),
		LastStatement:       text,
		Playbook:            o.cfg.Playbook,
	}
	o.wg.Add(1)
	go o.run(o.epoch.Load(), d, req)
	return true
}

// lastProspect picks the statement the request answers. A prospect trigger
// is itself the latest prospect turn; anything else looks it up.
func (o *Orchestrator) lastProspect(d conversation.TriggerDecision) (conversation.Utterance, bool) {
	if d.Utterance.Speaker == conversation.SpeakerProspect {
		return d.Utterance, true
	}
	return o.cfg.Context.LastFrom(conversation.SpeakerProspect)
}

func (o *Orchestrator) run(epoch uint64, d conversation.TriggerDecision, req Request) {
	defer o.wg.Done()
	defer o.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(o.base, o.cfg.Timeout)
	defer cancel()
	ctx, metrics := WithMetrics(ctx)

	start := time.Now()
	items, err := o.cfg.Service.Suggest(ctx, req)
	stale := o.epoch.Load() != epoch

	if err != nil {
		log.Warnf("suggestion request failed: %v", err)
		if !stale && o.base.Err() == nil {
			o.cfg.Publisher.PublishError(fmt.Sprintf("suggestion failed: %v", err))
		}
		return
	}

	items = capItems(items, o.cfg.MaxItems)
	net := metrics.Snapshot()
	log.SuggestionMetrics(log.SuggestionMetricsData{
		Provider:   o.cfg.Service.Name(),
		Reason:     string(d.Reason),
		ContextLen: len(req.ConversationContext),
		Items:      len(items),
		DNSMs:      float64(net.DNS.Milliseconds()),
		TLSMs:      float64(net.TLS.Milliseconds()),
		TTFBMs:     float64(net.TTFB.Milliseconds()),
		TotalMs:    float64(time.Since(start).Milliseconds()),
		ConnReused: net.ConnReused,
		Discarded:  stale,
	})
	if stale || len(items) == 0 {
		return
	}

	b := &Batch{Items: items, ProducedAt: o.cfg.Now(), Source: d.Utterance}
	o.current.Store(b)
	o.cfg.Publisher.PublishSuggestions(*b)
}

// Current returns the latest batch, or nil.
func (o *Orchestrator) Current() *Batch {
	return o.current.Load()
}

func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Invalidate discards the result of any outstanding request and forgets the
// current batch.
func (o *Orchestrator) Invalidate() {
	o.epoch.Add(1)
	o.current.Store(nil)
}

// Close cancels outstanding requests and waits for them to return.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}
