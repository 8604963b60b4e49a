package redefine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/dispatch"
	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
)

type unitKey struct {
	scope *scope.Scope
	name  string
}

// bridge makes units under prefix in target visible from the patched scope.
type bridge struct {
	prefix     string
	target     *scope.Scope
	protection scope.Protection
}

// Service stores committed units and runs hooks around every change.
type Service struct {
	mu      sync.RWMutex
	units   map[unitKey]*unit.Unit
	bridges map[*scope.Scope][]bridge

	// commitMu serializes commits so batches never interleave.
	commitMu sync.Mutex

	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	// Stats
	defined     atomic.Uint64
	redefined   atomic.Uint64
	rejected    atomic.Uint64
	hookFailure atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a service that reports events to d.
func NewService(d *dispatch.Dispatcher, opts ...Option) *Service {
	s := &Service{
		units:      make(map[unitKey]*unit.Unit),
		bridges:    make(map[*scope.Scope][]bridge),
		dispatcher: d,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("redefine")
	return s
}

// Define transforms u through the load hooks and commits the result in sc.
// If sc already holds a unit with the same name, the commit is a
// redefinition and redefine hooks run after it. On a load hook failure
// nothing is committed and the *dispatch.TransformBuildError is returned.
func (s *Service) Define(ctx context.Context, sc *scope.Scope, u *unit.Unit) (*unit.Unit, error) {
	if u == nil {
		return nil, unit.ErrNilUnit
	}
	committed, err := s.commitBatch(ctx, sc, []*unit.Unit{u})
	if err != nil {
		return nil, err
	}
	return committed[0], nil
}

// Redefine replaces several units of sc at once. Every name must already be
// defined in sc. All units are transformed before any is committed; if one
// transform fails, none is committed.
func (s *Service) Redefine(ctx context.Context, sc *scope.Scope, bodies map[string][]byte) error {
	if len(bodies) == 0 {
		return ErrEmptyBatch
	}

	names := make([]string, 0, len(bodies))
	for name := range bodies {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := make([]*unit.Unit, 0, len(names))
	s.mu.RLock()
	for _, name := range names {
		prev, ok := s.units[unitKey{sc, name}]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("redefine %s in %s: %w", name, sc, ErrUnitNotFound)
		}
		next := prev.Clone()
		next.Body = bodies[name]
		batch = append(batch, next)
	}
	s.mu.RUnlock()

	_, err := s.commitBatch(ctx, sc, batch)
	return err
}

// commitBatch runs load hooks on every unit, commits them all, then runs
// redefine hooks for the ones that replaced a committed unit.
func (s *Service) commitBatch(ctx context.Context, sc *scope.Scope, batch []*unit.Unit) ([]*unit.Unit, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	previous := make([]*unit.Unit, len(batch))
	transformed := make([]*unit.Unit, len(batch))

	s.mu.RLock()
	for i, u := range batch {
		previous[i] = s.units[unitKey{sc, u.Name}]
	}
	s.mu.RUnlock()

	for i, u := range batch {
		out, err := s.dispatcher.Load(ctx, sc, u, previous[i])
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("unit rejected",
				zap.String("unit", u.Name),
				zap.Stringer("scope", sc),
				zap.Error(err))
			return nil, err
		}
		// Hooks may rewrite the body, never the identity.
		out.Name = u.Name
		out.Version = 1
		if previous[i] != nil {
			out.Version = previous[i].Version + 1
		}
		transformed[i] = out
	}

	s.mu.Lock()
	for _, u := range transformed {
		s.units[unitKey{sc, u.Name}] = u
	}
	s.mu.Unlock()

	// Committed units always reach their redefine hooks.
	hookCtx := context.WithoutCancel(ctx)
	for i, u := range transformed {
		if previous[i] == nil {
			s.defined.Add(1)
			s.logger.Debug("unit defined", zap.String("unit", u.Name), zap.Stringer("scope", sc))
			continue
		}
		s.redefined.Add(1)
		failures := s.dispatcher.Redefine(hookCtx, sc, previous[i], u.Clone())
		s.hookFailure.Add(uint64(len(failures)))
		s.logger.Debug("unit redefined",
			zap.String("unit", u.Name),
			zap.Stringer("scope", sc),
			zap.Int("version", u.Version),
			zap.Int("hook_failures", len(failures)))
	}

	out := make([]*unit.Unit, len(transformed))
	for i, u := range transformed {
		out[i] = u.Clone()
	}
	return out, nil
}

// Lookup returns a copy of the unit committed under name in sc, or a unit
// made visible in sc by a scope patch.
func (s *Service) Lookup(sc *scope.Scope, name string) (*unit.Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.units[unitKey{sc, name}]; ok {
		return u.Clone(), true
	}
	for _, b := range s.bridges[sc] {
		if !strings.HasPrefix(name, b.prefix) {
			continue
		}
		if u, ok := s.units[unitKey{b.target, name}]; ok {
			return u.Clone(), true
		}
	}
	return nil, false
}

// Remove forgets the unit committed under name in sc. No hooks run.
func (s *Service) Remove(sc *scope.Scope, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unitKey{sc, name}
	if _, ok := s.units[key]; !ok {
		return false
	}
	delete(s.units, key)
	return true
}

// Names returns the names of units committed in sc, sorted.
func (s *Service) Names(sc *scope.Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for key := range s.units {
		if key.scope == sc {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

// ApplyScopePatch makes units whose names start with namePrefix, as
// committed in target, visible from sc.
func (s *Service) ApplyScopePatch(ctx context.Context, sc *scope.Scope, namePrefix string, target *scope.Scope, p scope.Protection) error {
	if sc == nil || target == nil {
		return scope.ErrNilScope
	}
	if sc == target {
		return fmt.Errorf("scope %s: %w", sc, ErrSelfPatch)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bridges[sc] {
		if b.prefix == namePrefix && b.target == target {
			return nil
		}
	}
	s.bridges[sc] = append(s.bridges[sc], bridge{prefix: namePrefix, target: target, protection: p})

	s.logger.Debug("scope patched",
		zap.Stringer("scope", sc),
		zap.Stringer("target", target),
		zap.String("prefix", namePrefix),
		zap.String("origin", p.Origin),
		zap.Bool("trusted", p.Trusted))
	return nil
}

// Protection returns the protection a unit visible in sc through a patch
// was bridged under. ok is false for units committed directly in sc or not
// visible at all.
func (s *Service) Protection(sc *scope.Scope, name string) (p scope.Protection, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, direct := s.units[unitKey{sc, name}]; direct {
		return scope.Protection{}, false
	}
	for _, b := range s.bridges[sc] {
		if strings.HasPrefix(name, b.prefix) {
			if _, exists := s.units[unitKey{b.target, name}]; exists {
				return b.protection, true
			}
		}
	}
	return scope.Protection{}, false
}

// IsTransformError reports whether err came from a failing load hook.
func IsTransformError(err error) bool {
	var tbe *dispatch.TransformBuildError
	return errors.As(err, &tbe)
}

// Stats contains service statistics.
type Stats struct {
	// Defined is the number of first-time commits.
	Defined uint64
	// Redefined is the number of commits replacing a unit.
	Redefined uint64
	// Rejected is the number of units refused by a load hook.
	Rejected uint64
	// HookFailures is the number of failed redefine hooks.
	HookFailures uint64
}

// Stats returns service statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Defined:      s.defined.Load(),
		Redefined:    s.redefined.Load(),
		Rejected:     s.rejected.Load(),
		HookFailures: s.hookFailure.Load(),
	}
}

var _ scope.Patcher = (*Service)(nil)
