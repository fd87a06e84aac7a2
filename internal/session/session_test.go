package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/project"
)

func TestHooksMergesProjectUnderUser(t *testing.T) {
	home := t.TempDir()
	l := layout.NewAt(home)

	require.NoError(t, layout.EnsureDir(home))
	require.NoError(t, os.WriteFile(l.HooksFile(), []byte(`{"node": {"distro": {"prefix": "https://user.example/node"}}}`), 0o644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, project.ManifestFileName), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "hooks.json"), []byte(`{
		"node": {"distro": {"prefix": "https://project.example/node"}},
		"npm": {"distro": {"prefix": "https://project.example/npm"}}
	}`), 0o644))

	s := New(l, projectDir)
	cfg, err := s.Hooks()
	require.NoError(t, err)

	nodeHook := cfg.ForKind("node").Distro
	require.NotNil(t, nodeHook)
	assert.Equal(t, "https://user.example/node", nodeHook.Prefix, "user hooks should win over project hooks for the same kind")

	npmHook := cfg.ForKind("npm").Distro
	require.NotNil(t, npmHook)
	assert.Equal(t, "https://project.example/npm", npmHook.Prefix, "a kind only set at project level should still come through")
}

func TestHooksWithNoFilesReturnsEmptyConfig(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	s := New(l, t.TempDir())

	cfg, err := s.Hooks()
	require.NoError(t, err)
	assert.Nil(t, cfg.ForKind("node").Distro)
}

func TestHooksIsMemoized(t *testing.T) {
	home := t.TempDir()
	l := layout.NewAt(home)
	require.NoError(t, layout.EnsureDir(home))
	require.NoError(t, os.WriteFile(l.HooksFile(), []byte(`{"node": {"distro": {"prefix": "https://first.example"}}}`), 0o644))

	s := New(l, t.TempDir())
	first, err := s.Hooks()
	require.NoError(t, err)

	// Mutate the file on disk; a memoized Session must not re-read it.
	require.NoError(t, os.WriteFile(l.HooksFile(), []byte(`{"node": {"distro": {"prefix": "https://second.example"}}}`), 0o644))

	second, err := s.Hooks()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestProjectFoundAndNotFound(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, project.ManifestFileName), []byte(`{"volta": {"node": "20.11.0"}}`), 0o644))

	l := layout.NewAt(t.TempDir())
	s := New(l, projectDir)

	pinned, ok, err := s.Project()
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, pinned.Node)
	assert.Equal(t, "20.11.0", *pinned.Node)

	s2 := New(l, t.TempDir())
	_, ok, err = s2.Project()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultPlatformLoadsPersistedPin(t *testing.T) {
	home := t.TempDir()
	l := layout.NewAt(home)

	node := "20.11.0"
	require.NoError(t, platform.SaveDefault(l, project.PinnedPlatform{Node: &node}))

	s := New(l, t.TempDir())
	pinned, err := s.DefaultPlatform()
	require.NoError(t, err)
	require.NotNil(t, pinned.Node)
	assert.Equal(t, node, *pinned.Node)
}

func TestCloseFlushesTranscriptOnlyWhenNonEmpty(t *testing.T) {
	l := layout.NewAt(t.TempDir())

	s := New(l, t.TempDir())
	require.NoError(t, s.Close())
	_, err := os.Stat(filepath.Join(l.SessionLogDir(s.ID()), "session.jsonl"))
	assert.True(t, os.IsNotExist(err), "a session with no events should write no transcript")

	s2 := New(l, t.TempDir())
	s2.RecordEvent(Event{Op: "fetch", Tool: "node", Version: "20.11.0"})
	s2.RecordEvent(Event{Op: "install", Tool: "node", Version: "20.11.0"})
	require.NoError(t, s2.Close())

	data, err := os.ReadFile(filepath.Join(l.SessionLogDir(s2.ID()), "session.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op":"fetch"`)
	assert.Contains(t, string(data), `"op":"install"`)
}

func TestResolveGroupIsSharedWithinSession(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	s := New(l, t.TempDir())
	assert.Same(t, s.ResolveGroup(), s.ResolveGroup())
}
