package desktop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmds-online/bmds/internal/store"
)

func TestVersionPath(t *testing.T) {
	tests := []struct {
		version string
		want    string
		wantErr bool
	}{
		{"25.1", "25_1", false},
		{"24.1a2", "24_1", false},
		{"2023.10.1", "2023_10", false},
		{"dev", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := VersionPath(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppHome_Env(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	t.Setenv(EnvAppHome, dir)

	got, err := AppHome("25.1")
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)
}

func TestConfig_Projects(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5555, cfg.Server.Port)

	first := NewDatabase("first", "", "/tmp/first.sqlite3")
	second := NewDatabase("second", "desc", "/tmp/second.sqlite3")
	cfg.AddDB(first)
	cfg.AddDB(second)
	require.Len(t, cfg.Databases, 2)
	assert.Equal(t, "second", cfg.Databases[0].Name)
	assert.Equal(t, "second: /tmp/second.sqlite3", cfg.Databases[0].String())

	got, err := cfg.GetDB(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	before := got.LastAccessed
	time.Sleep(time.Millisecond)
	require.NoError(t, cfg.Touch(first.ID))
	got, _ = cfg.GetDB(first.ID)
	assert.True(t, got.LastAccessed.After(before))

	require.NoError(t, cfg.RemoveDB(second.ID))
	assert.Len(t, cfg.Databases, 1)
	assert.ErrorIs(t, cfg.RemoveDB(second.ID), ErrProjectNotFound)
	_, err = cfg.GetDB(uuid.New())
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	home := t.TempDir()

	cf, err := LoadConfig(home, "")
	require.NoError(t, err)
	assert.FileExists(t, cf.Path)
	latest, err := os.ReadFile(filepath.Join(home, latestFile))
	require.NoError(t, err)
	assert.Equal(t, cf.Path, string(latest))

	cf.Config.AddDB(NewDatabase("proj", "", filepath.Join(home, "proj.sqlite3")))
	require.NoError(t, cf.Sync())

	again, err := LoadConfig(home, "")
	require.NoError(t, err)
	assert.Equal(t, cf.Path, again.Path)
	require.Len(t, again.Config.Databases, 1)
	assert.Equal(t, "proj", again.Config.Databases[0].Name)
	assert.Equal(t, cf.Config.Databases[0].ID, again.Config.Databases[0].ID)
}

func TestLoadConfig_StaleLatest(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, latestFile), []byte("/does/not/exist.yaml"), 0o644))

	cf, err := LoadConfig(home, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, defaultConfig), cf.Path)
}

func TestLoadConfig_Explicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mine.yaml")

	cf, err := LoadConfig(t.TempDir(), path)
	require.NoError(t, err)
	assert.Equal(t, path, cf.Path)
	assert.FileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("version: [oops"), 0o644))
	_, err = LoadConfig(t.TempDir(), path)
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.0.0", "2.0.0", 0},
		{"2.0", "2.0.0", 0},
		{"2.0.0", "2.0.1", -1},
		{"2.0.0", "1.0.0", 1},
		{"24.1a1", "24.1", -1},
		{"24.1a1", "24.1a2", -1},
		{"25.1", "24.1a2", 1},
		{"v10.0", "9.9", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}

func TestVersionMessage(t *testing.T) {
	released := time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)

	msg := VersionMessage("2.0.0", Release{Version: "2.0.0", Uploaded: released})
	assert.Equal(t, "You have the latest version installed, 2.0.0 (released May 28, 2024).", msg)

	msg = VersionMessage("2.0.0", Release{Version: "2.0.1", Uploaded: released})
	assert.Contains(t, msg, "There is a newer version available")

	msg = VersionMessage("2.0.0", Release{Version: "1.0.0", Uploaded: released})
	assert.Contains(t, msg, "You have a newer version than what's currently available")
}

func TestLatestRelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"releases": {
			"24.1": [{"upload_time": "2024-05-28T14:01:02"}],
			"25.0": [],
			"25.1": [{"upload_time": "2025-03-04T09:00:00"}]
		}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	rel, err := LatestRelease(context.Background(), ts.Client(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "25.1", rel.Version)
	assert.Equal(t, time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC), rel.Uploaded)
}

func TestLatestRelease_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := LatestRelease(context.Background(), http.DefaultClient, url)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Could not check latest version"))
}

func TestRunner_StartStop(t *testing.T) {
	db := NewDatabase("proj", "", filepath.Join(t.TempDir(), "proj.sqlite3"))
	var opened store.Store
	r := NewRunner(func(st store.Store) (http.Handler, error) {
		opened = st
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}), nil
	})

	ctx := context.Background()
	url, err := r.Start(ctx, WebServer{Host: "127.0.0.1", Port: 0}, db)
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.True(t, r.Running())
	assert.FileExists(t, db.Path)

	_, err = r.Start(ctx, WebServer{Host: "127.0.0.1", Port: 0}, db)
	assert.ErrorIs(t, err, ErrRunning)

	resp, err := http.Get(url + "/")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.Running())
	require.NoError(t, r.Wait(ctx))
	require.NoError(t, r.Stop(ctx))
}
