package watch

import (
	"errors"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
	"github.com/dshills/hotswap/internal/scope"
)

// FSService implements Service using fsnotify.
type FSService struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher

	// Watched directories and the roots registered per scope.
	dirs  map[string]bool
	roots []root

	listeners []*listenerEntry

	ignore       *IgnorePatterns
	ignoreHidden bool

	logger  *zap.Logger
	metrics *metrics.Metrics

	// Stats
	delivered atomic.Int64
	dropped   atomic.Int64
	errs      atomic.Int64

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type root struct {
	scope *scope.Scope
	path  string
}

type listenerEntry struct {
	scope   *scope.Scope
	locator string
	fn      Listener
}

// Option configures an FSService.
type Option func(*FSService)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *FSService) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FSService) {
		s.metrics = m
	}
}

// WithIgnorePatterns adds gitignore-style rules for paths never reported.
func WithIgnorePatterns(patterns ...string) Option {
	return func(s *FSService) {
		for _, p := range patterns {
			s.ignore.Add(p)
		}
	}
}

// WithIgnoreHidden skips files and directories whose name starts with a dot.
func WithIgnoreHidden(ignore bool) Option {
	return func(s *FSService) {
		s.ignoreHidden = ignore
	}
}

// NewFSService creates a service and starts its event goroutine.
// Call Close to release it.
func NewFSService(opts ...Option) (*FSService, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &FSService{
		watcher: fsw,
		dirs:    make(map[string]bool),
		ignore:  NewIgnorePatterns(),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("watch")

	s.wg.Add(1)
	go s.processLoop()

	return s, nil
}

// AddWatchRoot watches locator recursively on behalf of sc. Adding the
// same root twice is a no-op.
func (s *FSService) AddWatchRoot(sc *scope.Scope, locator string) error {
	abs, err := absLocator(locator)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrWatcherClosed
	}
	for _, r := range s.roots {
		if r.scope == sc && r.path == abs {
			s.mu.Unlock()
			return nil
		}
	}
	s.roots = append(s.roots, root{scope: sc, path: abs})
	s.mu.Unlock()

	if !info.IsDir() {
		return s.watchDir(filepath.Dir(abs))
	}
	return s.watchTree(abs)
}

// AddListener registers l for changes at or below locator.
func (s *FSService) AddListener(sc *scope.Scope, locator string, l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	abs, err := absLocator(locator)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrWatcherClosed
	}
	s.listeners = append(s.listeners, &listenerEntry{scope: sc, locator: abs, fn: l})
	return nil
}

func absLocator(locator string) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", ErrEmptyLocator
	}
	return filepath.Abs(locator)
}

// watchTree adds abs and every non-ignored directory below it.
func (s *FSService) watchTree(abs string) error {
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && s.shouldIgnore(p, abs, true) {
			return filepath.SkipDir
		}
		if werr := s.watchDir(p); werr != nil {
			if errors.Is(werr, ErrWatcherClosed) {
				return werr
			}
			s.recordError(werr)
		}
		return nil
	})
}

func (s *FSService) watchDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrWatcherClosed
	}
	if s.dirs[dir] {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	s.dirs[dir] = true
	return nil
}

// Close stops the event goroutine and releases the fsnotify watcher.
func (s *FSService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.wg.Wait()
	return s.watcher.Close()
}

func (s *FSService) processLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.recordError(err)
		}
	}
}

func (s *FSService) handle(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(fsEvent.Name)

	isDir := false
	if op == OpCreate {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if s.ignoredForAllRoots(path, isDir) {
		s.dropped.Add(1)
		return
	}

	if isDir {
		if err := s.watchTree(path); err != nil && !errors.Is(err, ErrWatcherClosed) {
			s.recordError(err)
		}
	}

	s.metrics.WatchEvent(op.String())
	s.deliver(Event{Path: path, Op: op, Timestamp: time.Now()})
}

// Notify delivers a synthetic event for path to matching listeners, as if
// it had been observed on disk.
func (s *FSService) Notify(path string, op Op) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.deliver(Event{Path: abs, Op: op, Timestamp: time.Now()})
}

func (s *FSService) deliver(ev Event) {
	s.mu.RLock()
	var matched []*listenerEntry
	for _, l := range s.listeners {
		if within(ev.Path, l.locator) {
			matched = append(matched, l)
		}
	}
	s.mu.RUnlock()

	for _, l := range matched {
		e := ev
		e.Scope = l.scope
		e.Locator = l.locator
		s.call(l, e)
	}
}

func (s *FSService) call(l *listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watch listener panicked",
				zap.String("path", ev.Path),
				zap.Stringer("op", ev.Op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	l.fn(ev)
	s.delivered.Add(1)
}

// within reports whether path is locator or below it.
func within(path, locator string) bool {
	if path == locator {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(locator, string(filepath.Separator))+string(filepath.Separator))
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpModify
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	default:
		return 0
	}
}

// ignoredForAllRoots reports whether path is ignored relative to every root
// containing it.
func (s *FSService) ignoredForAllRoots(path string, isDir bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roots {
		if within(path, r.path) && !s.shouldIgnore(path, r.path, isDir) {
			return false
		}
	}
	return len(s.roots) > 0
}

func (s *FSService) shouldIgnore(path, base string, isDir bool) bool {
	if s.ignoreHidden {
		rel, err := filepath.Rel(base, path)
		if err == nil {
			for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
				if len(part) > 1 && part[0] == '.' && part != ".." {
					return true
				}
			}
		}
	}
	return s.ignore.Match(path, base, isDir)
}

func (s *FSService) recordError(err error) {
	s.errs.Add(1)
	s.logger.Warn("watch error", zap.Error(err))
}

// Stats contains watch statistics.
type Stats struct {
	// Dirs is the number of watched directories.
	Dirs int
	// Roots is the number of registered (scope, locator) roots.
	Roots int
	// Listeners is the number of registered listeners.
	Listeners int
	// Delivered is the number of successful listener calls.
	Delivered int64
	// Dropped is the number of ignored events.
	Dropped int64
	// Errors is the number of watch errors.
	Errors int64
}

// Stats returns watch statistics.
func (s *FSService) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Dirs:      len(s.dirs),
		Roots:     len(s.roots),
		Listeners: len(s.listeners),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Errors:    s.errs.Load(),
	}
}
