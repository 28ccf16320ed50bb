package reminder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nudge/internal/notification"
	logx "nudge/pkg/logx"
)

// maxStartupSpread bounds the random delay of a group's first poll so many
// sessions started together do not hit the backends in lockstep.
const maxStartupSpread = 2 * time.Second

// Group is a set of sources polled together on one schedule. Items of one
// tick are emitted as one batch.
type Group struct {
	Name     string
	Schedule string
	Sources  []Source
}

type Config struct {
	UserID      string
	Privileged  bool
	DefaultLead time.Duration
	Tail        time.Duration
	Location    *time.Location
	Groups      []Group
}

// Seen is the read side of the deduplicator.
type Seen interface {
	IsSeen(ctx context.Context, category notification.Category, key string) bool
}

// Recorder receives poll outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	SourceFailure(category string)
	ParseFailure(component string)
	RemindersDue(category string, n int)
}

type Option func(*Poller)

func WithLogger(log logx.Logger) Option { return func(p *Poller) { p.log = log } }

func WithRecorder(r Recorder) Option { return func(p *Poller) { p.rec = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

type scheduledGroup struct {
	Group
	sched Schedule
}

// Poller runs the source groups of one user.
type Poller struct {
	cfg    Config
	groups []scheduledGroup
	eval   Evaluator
	seen   Seen
	sink   func([]notification.Item)
	rec    Recorder
	log    logx.Logger
	now    func() time.Time
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	cancel  context.CancelFunc
	stopped bool
}

// NewPoller validates every group schedule. sink receives non-empty
// batches of unseen due items; seen may be nil.
func NewPoller(cfg Config, seen Seen, sink func([]notification.Item), opts ...Option) (*Poller, error) {
	if sink == nil {
		return nil, errors.New("reminder: sink is required")
	}
	p := &Poller{
		cfg:    cfg,
		seen:   seen,
		sink:   sink,
		now:    time.Now,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, fn := range opts {
		fn(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	if p.cfg.DefaultLead <= 0 {
		p.cfg.DefaultLead = DefaultLead
	}
	p.eval = Evaluator{
		Tail:     cfg.Tail,
		Location: cfg.Location,
		OnInvalid: func(c Candidate, err error) {
			p.log.Debug("candidate dropped", logx.String("kind", string(c.Kind)), logx.String("id", c.ID), logx.Err(err))
			if p.rec != nil {
				p.rec.ParseFailure("reminder")
			}
		},
	}

	seenNames := map[string]bool{}
	for _, g := range cfg.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return nil, errors.New("reminder: group name is required")
		}
		if seenNames[name] {
			return nil, fmt.Errorf("reminder: duplicate group %q", name)
		}
		seenNames[name] = true
		sched, err := ParseSchedule(g.Schedule)
		if err != nil {
			return nil, fmt.Errorf("reminder: group %q: %w", name, err)
		}
		if sched.Kind == ScheduleCron {
			if _, err := p.parser.Parse(sched.Cron); err != nil {
				return nil, fmt.Errorf("reminder: group %q: %w", name, err)
			}
		}
		p.groups = append(p.groups, scheduledGroup{Group: g, sched: sched})
	}
	return p, nil
}

// Start schedules every group. Each group first runs within a short random
// delay, then on its cadence. Overlapping runs of a group are skipped.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("reminder: poller stopped")
	}
	if p.c != nil {
		return nil
	}

	loc := p.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: p.log}
	c := cron.New(
		cron.WithParser(p.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	for i := range p.groups {
		g := p.groups[i]
		job := cron.FuncJob(func() { p.run(ctx, g.Group) })
		if g.sched.Kind == ScheduleInterval {
			c.Schedule(withStartupSpread(g.sched.Every, p.now().In(loc), p.cfg.UserID+"/"+g.Name), job)
			continue
		}
		if _, err := c.AddJob(g.sched.Cron, job); err != nil {
			cancel()
			return fmt.Errorf("reminder: group %q: %w", g.Name, err)
		}
	}

	p.c = c
	p.cancel = cancel
	c.Start()
	p.log.Debug("poller started", logx.Int("groups", len(p.groups)), logx.String("tz", loc.String()))
	return nil
}

// Stop cancels in-flight fetches and waits for running polls to return.
// No batch reaches the sink after Stop returns. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.c, p.cancel
	p.c, p.cancel = nil, nil
	p.stopped = true
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}

// Poll runs one group synchronously and returns its unseen due items
// without emitting them.
func (p *Poller) Poll(ctx context.Context, group string) ([]notification.Item, error) {
	for _, g := range p.groups {
		if g.Name == group {
			return p.collect(ctx, g.Group), nil
		}
	}
	return nil, fmt.Errorf("reminder: unknown group %q", group)
}

func (p *Poller) run(ctx context.Context, g Group) {
	items := p.collect(ctx, g)
	if len(items) == 0 || ctx.Err() != nil {
		return
	}
	p.sink(items)
}

func (p *Poller) collect(ctx context.Context, g Group) []notification.Item {
	now := p.now()
	var out []notification.Item
	for _, src := range g.Sources {
		if ctx.Err() != nil {
			return nil
		}
		kind := src.Kind()
		cands, err := src.Fetch(ctx, p.cfg.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, notification.ErrSourceFetch) {
				err = notification.SourceFetchError(string(kind), err)
			}
			p.log.Warn("source skipped", logx.String("group", g.Name), logx.String("kind", string(kind)), logx.Err(err))
			if p.rec != nil {
				p.rec.SourceFailure(string(kind))
			}
			continue
		}

		visible := cands[:0:0]
		for _, c := range cands {
			if c.Kind == "" {
				c.Kind = kind
			}
			if Visible(c, p.cfg.UserID, p.cfg.Privileged) {
				visible = append(visible, c)
			}
		}

		due := p.eval.Due(visible, now, p.cfg.DefaultLead)
		n := 0
		for _, it := range due {
			if p.seen != nil && p.seen.IsSeen(ctx, it.Category, it.ID) {
				continue
			}
			out = append(out, it)
			n++
		}
		if n > 0 && p.rec != nil {
			p.rec.RemindersDue(string(kind), n)
		}
		p.log.Trace("source polled", logx.String("kind", string(kind)), logx.Int("candidates", len(cands)), logx.Int("due", n))
	}
	return out
}

// startupSpreadSchedule overrides the first activation of a base schedule.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func withStartupSpread(every time.Duration, now time.Time, tag string) cron.Schedule {
	base := cron.Every(every)
	spread := every
	if spread > maxStartupSpread {
		spread = maxStartupSpread
	}
	if spread <= 0 {
		return base
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	return &startupSpreadSchedule{base: base, first: now.Add(time.Duration(rng.Int63n(int64(spread))))}
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logx.Any(k, kv[i+1]))
	}
	return fields
}
