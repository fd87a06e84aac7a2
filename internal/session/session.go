// Package session implements spec.md §4.F: the process-wide lazy
// context a shim invocation or `volta` subcommand constructs exactly
// once. Hooks, the project manifest, the default platform, and the
// inventory handle each resolve on first access and are cached for the
// session's lifetime.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/hooks"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/project"
)

// Event is one entry in a session's diagnostic transcript, flushed to
// log/<id>/session.jsonl on Close. Purely local and best-effort — never
// sent over a network, matching spec.md's telemetry non-goal.
type Event struct {
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Tool    string    `json:"tool,omitempty"`
	Version string    `json:"version,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Session is the lazy process-wide context spec.md §4.F describes.
// Construct exactly one per process; nested operations (a package
// install shelling back out through the recursion guard in internal/
// executor) share it by threading the same *Session through, not by
// constructing a second one.
type Session struct {
	layout *layout.Layout
	inv    *inventory.Store

	id        string
	startedAt time.Time

	projectDir string

	locateOnce sync.Once
	locatePath string
	locateOK   bool
	locateErr  error

	hooksOnce sync.Once
	hooksVal  *hooks.Config
	hooksErr  error

	projectOnce sync.Once
	projectVal  project.PinnedPlatform
	projectOK   bool
	projectErr  error

	defaultOnce sync.Once
	defaultVal  project.PinnedPlatform
	defaultErr  error

	resolveGroup singleflight.Group

	eventsMu sync.Mutex
	events   []Event
}

// New constructs a Session rooted at l. dir is where the project
// manifest search starts (typically the process's working directory).
// Nothing is read from disk until a field is first accessed.
func New(l *layout.Layout, dir string) *Session {
	now := time.Now()
	return &Session{
		layout:     l,
		inv:        inventory.New(l),
		id:         now.Format("20060102T150405"),
		startedAt:  now,
		projectDir: dir,
	}
}

// ID is this session's transcript identifier (log/<id>/).
func (s *Session) ID() string { return s.id }

// Layout returns the canonical directory layout this session was
// constructed over.
func (s *Session) Layout() *layout.Layout { return s.layout }

// Inventory returns the session's inventory handle. Unlike the other
// fields, this carries no I/O to construct, so it's built eagerly in
// New rather than behind a sync.Once.
func (s *Session) Inventory() *inventory.Store { return s.inv }

// ResolveGroup exposes the session's singleflight group so internal/
// versionresolve and internal/toolchain can coalesce concurrent index
// fetches and hook resolutions for the same key within this process,
// per SPEC_FULL.md §4.D/§4.F.
func (s *Session) ResolveGroup() *singleflight.Group { return &s.resolveGroup }

// locateProject resolves and memoizes the project manifest path search,
// shared by Hooks and Project so both pay the filesystem walk at most
// once per session.
func (s *Session) locateProject() (string, bool, error) {
	s.locateOnce.Do(func() {
		s.locatePath, s.locateOK, s.locateErr = project.Locate(s.projectDir)
	})
	return s.locatePath, s.locateOK, s.locateErr
}

// Hooks lazily loads and merges the user hook config (layout.HooksFile)
// with a project-level one, if a project is found, per spec.md §4.J's
// "project < user" layering — a project's hooks.json sits alongside its
// manifest and is overridden field-by-field by the user's.
func (s *Session) Hooks() (*hooks.Config, error) {
	s.hooksOnce.Do(func() {
		s.hooksVal, s.hooksErr = s.loadHooks()
	})
	return s.hooksVal, s.hooksErr
}

func (s *Session) loadHooks() (*hooks.Config, error) {
	userCfg, err := loadHooksFile(s.layout.HooksFile())
	if err != nil {
		return nil, err
	}

	manifestPath, ok, err := s.locateProject()
	if err != nil {
		return nil, err
	}
	if !ok {
		return hooks.Merge(nil, userCfg), nil
	}

	projCfg, err := loadHooksFile(filepath.Join(filepath.Dir(manifestPath), "hooks.json"))
	if err != nil {
		return nil, err
	}
	return hooks.Merge(projCfg, userCfg), nil
}

func loadHooksFile(path string) (*hooks.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindBadHooks, "session", err)
	}
	return hooks.Parse(data)
}

// Project reports the nearest project manifest's pinned platform, if
// any exists above the session's starting directory. ok is false
// outside any project.
func (s *Session) Project() (project.PinnedPlatform, bool, error) {
	s.projectOnce.Do(func() {
		path, ok, err := s.locateProject()
		if err != nil || !ok {
			s.projectErr = err
			return
		}
		s.projectVal, s.projectOK, s.projectErr = project.Read(path)
	})
	return s.projectVal, s.projectOK, s.projectErr
}

// DefaultPlatform lazily loads the user's persisted default platform
// pin (tools/user/platform.json).
func (s *Session) DefaultPlatform() (project.PinnedPlatform, error) {
	s.defaultOnce.Do(func() {
		s.defaultVal, s.defaultErr = platform.LoadDefault(s.layout)
	})
	return s.defaultVal, s.defaultErr
}

// RecordEvent appends ev to the session's in-memory transcript. Safe
// for concurrent use by parallel tool-lifecycle operations.
func (s *Session) RecordEvent(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.eventsMu.Lock()
	s.events = append(s.events, ev)
	s.eventsMu.Unlock()
}

// Close flushes the session's transcript to log/<id>/session.jsonl. A
// session that recorded no events writes nothing — a process that never
// did anything notable leaves no trace in log/.
func (s *Session) Close() error {
	s.eventsMu.Lock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.eventsMu.Unlock()

	if len(events) == 0 {
		return nil
	}

	dir := s.layout.SessionLogDir(s.id)
	if err := layout.EnsureDir(dir); err != nil {
		return errs.Wrap(errs.KindFilesystem, "session", err)
	}

	f, err := os.Create(filepath.Join(dir, "session.jsonl"))
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "session", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return errs.Wrap(errs.KindFilesystem, "session", err)
		}
	}
	return nil
}
