package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
	"github.com/dshills/hotswap/internal/watch"
)

// SyncCommand is the command name used for source file changes.
const SyncCommand = "sync"

// AttrSource is the unit attribute holding the source file path.
const AttrSource = "source"

type sourceKey struct {
	scope *scope.Scope
	dir   string
}

type ownerKey struct {
	scope *scope.Scope
	unit  string
}

// UnitName maps a file below root to a unit name: the relative path with
// separators replaced by dots and the extension dropped. ok is false for
// paths outside root.
func UnitName(root, path string) (name string, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "."), true
}

// WatchSources defines every file below dir as a unit of s, then keeps the
// units in sync with the files. Watching the same directory twice for the
// same scope is a no-op.
func (e *Engine) WatchSources(ctx context.Context, s *scope.Scope, dir string) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil {
		return err
	} else if !info.IsDir() {
		return ErrNotDirectory
	}
	if err := e.scopes.EnsureReady(ctx, s); err != nil {
		return err
	}

	key := sourceKey{scope: s, dir: root}
	e.mu.Lock()
	if e.sources[key] {
		e.mu.Unlock()
		return nil
	}
	e.sources[key] = true
	e.mu.Unlock()

	if err := e.watchSources(ctx, s, root); err != nil {
		e.mu.Lock()
		delete(e.sources, key)
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) watchSources(ctx context.Context, s *scope.Scope, root string) error {
	defined, err := e.scan(ctx, s, root)
	if err != nil {
		return err
	}
	e.logger.Info("sources loaded",
		zap.String("scope", s.Name()),
		zap.String("dir", root),
		zap.Int("units", defined))

	if e.watcher == nil {
		return nil
	}
	if err := e.watcher.AddWatchRoot(s, root); err != nil {
		return err
	}
	return e.watcher.AddListener(s, root, func(ev watch.Event) {
		e.onSourceEvent(s, root, ev)
	})
}

// scan defines every file below root. Files rejected by a load hook are
// logged and skipped.
func (e *Engine) scan(ctx context.Context, s *scope.Scope, root string) (int, error) {
	defined := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if e.ignored(root, path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := e.syncFile(ctx, s, root, path)
		if err != nil {
			e.logger.Warn("source rejected", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ok {
			defined++
		}
		return nil
	})
	return defined, err
}

func (e *Engine) ignored(root, path string, isDir bool) bool {
	if e.settings.WatchIgnoreHidden {
		if rel, err := filepath.Rel(root, path); err == nil {
			for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
				if len(part) > 1 && part[0] == '.' {
					return true
				}
			}
		}
	}
	return e.ignore.Match(path, root, isDir)
}

// onSourceEvent debounces a file change through the scheduler.
func (e *Engine) onSourceEvent(s *scope.Scope, root string, ev watch.Event) {
	if ev.Op != watch.OpDelete {
		if info, err := os.Stat(ev.Path); err == nil && info.IsDir() {
			return
		}
	}
	if e.ignored(root, ev.Path, false) {
		return
	}
	name, ok := UnitName(root, ev.Path)
	if !ok {
		return
	}

	key := command.Key{Scope: s.Name(), Name: SyncCommand, Target: name}
	cmd := command.New(key, ev.Path, func(ctx context.Context, key command.Key, payloads []any) error {
		path, _ := payloads[len(payloads)-1].(string)
		_, err := e.syncFile(ctx, s, root, path)
		return err
	})
	if err := e.scheduler.ScheduleDefault(cmd); err != nil {
		e.logger.Debug("source change dropped",
			zap.String("path", ev.Path),
			zap.Error(err))
	}
}

// syncFile brings the unit for path in line with the file: defining or
// redefining it when the file exists, removing it when it does not. It
// reports whether a unit was committed.
func (e *Engine) syncFile(ctx context.Context, s *scope.Scope, root, path string) (bool, error) {
	name, ok := UnitName(root, path)
	if !ok {
		return false, nil
	}

	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if e.release(s, name, path) && e.units.Remove(s, name) {
			e.logger.Info("unit removed", zap.String("unit", name), zap.String("scope", s.Name()))
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if owner, ok := e.claim(s, name, path); !ok {
		e.logger.Warn("source name collision",
			zap.String("unit", name),
			zap.String("path", path),
			zap.String("owner", owner))
		return false, fmt.Errorf("%w: %s and %s both define %s", ErrNameCollision, path, owner, name)
	}

	u := unit.New(name, body)
	u.SetAttr(AttrSource, path)
	committed, err := e.units.Define(ctx, s, u)
	if err != nil {
		return false, err
	}
	e.logger.Debug("unit synced",
		zap.String("unit", name),
		zap.String("scope", s.Name()),
		zap.Int("version", committed.Version))
	return true, nil
}

// claim records path as the source of unit name in s. A unit owned by a
// different file that still exists cannot be claimed; the current owner is
// returned instead.
func (e *Engine) claim(s *scope.Scope, name, path string) (string, bool) {
	key := ownerKey{scope: s, unit: name}
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, ok := e.owners[key]; ok && owner != path {
		if _, err := os.Stat(owner); err == nil {
			return owner, false
		}
	}
	e.owners[key] = path
	return path, true
}

// release drops the ownership of name held by path. It reports false when
// another file owns the unit.
func (e *Engine) release(s *scope.Scope, name, path string) bool {
	key := ownerKey{scope: s, unit: name}
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, ok := e.owners[key]
	if ok && owner != path {
		return false
	}
	delete(e.owners, key)
	return true
}
