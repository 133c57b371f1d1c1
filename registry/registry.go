// Package registry tracks the filters attached to tracing session events.
//
// A Registry is the bookkeeping a session daemon does around the compiler:
// it compiles the filter expression, refuses to attach the same filter
// twice, persists the result in a Store and keeps an in-memory index for
// the enable path.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/compiler/hash"
	"github.com/chazu/tracefilter/pkg/bytecode"
)

var (
	// ErrNotFound indicates no filter is attached to the key.
	ErrNotFound = errors.New("filter not found")
	// ErrFilterExists indicates an identical filter is already attached.
	ErrFilterExists = errors.New("filter already attached")
	// ErrInvalidKey indicates a key with an empty component.
	ErrInvalidKey = errors.New("invalid filter key")
)

// Key identifies the event a filter is attached to.
type Key struct {
	Session string
	Channel string
	Event   string
}

func (k Key) String() string {
	return k.Session + "/" + k.Channel + "/" + k.Event
}

// Less orders keys by session, channel, then event.
func (k Key) Less(o Key) bool {
	if k.Session != o.Session {
		return k.Session < o.Session
	}
	if k.Channel != o.Channel {
		return k.Channel < o.Channel
	}
	return k.Event < o.Event
}

func (k Key) validate() error {
	if k.Session == "" || k.Channel == "" || k.Event == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Rule is an attached filter. Rules are immutable once installed.
type Rule struct {
	Key         Key
	Expression  string
	Fingerprint [32]byte
	Program     *bytecode.Program
	AttachedAt  time.Time
}

// Registry is safe for concurrent use. Lookups take the read lock only.
type Registry struct {
	mu    sync.RWMutex
	rules map[Key]*Rule

	store    Store
	compiler *compiler.Compiler
	now      func() time.Time
	log      commonlog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCompiler sets the compiler used for attach and restore.
func WithCompiler(c *compiler.Compiler) Option {
	return func(r *Registry) { r.compiler = c }
}

// WithClock overrides the attach timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over store. Call Restore to load persisted rules.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		rules:    make(map[Key]*Rule),
		store:    store,
		compiler: compiler.New(compiler.DefaultLimits),
		now:      time.Now,
		log:      commonlog.GetLogger("tracefilter.registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// compile runs the front end once and derives both the fingerprint and the
// program from the same IR.
func (r *Registry) compile(expr string) ([32]byte, *bytecode.Program, error) {
	ir, err := r.compiler.Frontend(expr)
	if err != nil {
		return [32]byte{}, nil, err
	}
	p, err := r.compiler.Generate(ir)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return hash.Fingerprint(ir), p, nil
}

// Attach compiles expr and attaches it to key. Attaching the filter the key
// already carries fails with ErrFilterExists; a different filter replaces
// the current one.
func (r *Registry) Attach(ctx context.Context, key Key, expr string) (*Rule, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	fp, prog, err := r.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling filter for %s: %w", key, err)
	}
	data, err := prog.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing filter for %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.rules[key]; ok && cur.Fingerprint == fp {
		return nil, fmt.Errorf("%w: %s", ErrFilterExists, key)
	}

	rule := &Rule{
		Key:         key,
		Expression:  expr,
		Fingerprint: fp,
		Program:     prog,
		AttachedAt:  r.now().UTC(),
	}
	err = r.store.Put(ctx, Record{
		Key:         key,
		Expression:  expr,
		Fingerprint: hash.String(fp),
		Bytecode:    data,
		AttachedAt:  rule.AttachedAt,
	})
	if err != nil {
		return nil, err
	}
	r.rules[key] = rule
	r.log.Infof("attached filter to %s: %s", key, expr)
	return rule, nil
}

// Detach removes the filter attached to key.
func (r *Registry) Detach(ctx context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := r.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	delete(r.rules, key)
	r.log.Infof("detached filter from %s", key)
	return nil
}

// Lookup returns the filter attached to key.
func (r *Registry) Lookup(key Key) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[key]
	return rule, ok
}

// List returns the rules of session, or of every session when session is
// empty, ordered by key.
func (r *Registry) List(session string) []*Rule {
	r.mu.RLock()
	out := make([]*Rule, 0, len(r.rules))
	for k, rule := range r.rules {
		if session == "" || k.Session == session {
			out = append(out, rule)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Len returns the number of attached filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Restore installs every persisted record. Stored bytecode is reused when
// it decodes and verifies and the expression still fingerprints the same;
// otherwise the expression is recompiled and the record rewritten. Records
// that no longer compile are skipped and reported together.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	records, err := r.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading filters: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	restored := 0
	for _, rec := range records {
		rule, rewritten, err := r.restoreRecord(rec)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("restoring %s: %w", rec.Key, err))
			continue
		}
		if rewritten != nil {
			if err := r.store.Put(ctx, *rewritten); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		r.rules[rec.Key] = rule
		restored++
	}
	r.log.Infof("restored %d of %d filters", restored, len(records))
	return restored, errs.ErrorOrNil()
}

func (r *Registry) restoreRecord(rec Record) (*Rule, *Record, error) {
	fp, prog, err := r.compile(rec.Expression)
	if err != nil {
		return nil, nil, err
	}
	rule := &Rule{
		Key:         rec.Key,
		Expression:  rec.Expression,
		Fingerprint: fp,
		AttachedAt:  rec.AttachedAt,
	}

	if stored, err := hash.Parse(rec.Fingerprint); err == nil && stored == fp {
		if p, err := bytecode.Deserialize(rec.Bytecode); err == nil {
			rule.Program = p
			return rule, nil, nil
		}
		r.log.Warningf("stored bytecode for %s is unusable, recompiling", rec.Key)
	} else {
		r.log.Infof("fingerprint of %s changed, recompiling", rec.Key)
	}

	data, err := prog.Serialize()
	if err != nil {
		return nil, nil, err
	}
	rule.Program = prog
	rec.Fingerprint = hash.String(fp)
	rec.Bytecode = data
	return rule, &rec, nil
}

// Close releases the store.
func (r *Registry) Close() error {
	return r.store.Close()
}
