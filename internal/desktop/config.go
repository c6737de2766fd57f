// Package desktop manages local projects for the single-user desktop
// build: the app home directory, the project list and the local server.
package desktop

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// EnvAppHome overrides the app home directory.
const EnvAppHome = "BMDS_APP_HOME"

const (
	latestFile    = "latest.txt"
	defaultConfig = "config.yaml"
)

// ErrProjectNotFound is returned when a project ID is unknown.
var ErrProjectNotFound = eris.New("desktop: project not found")

// Database is a local SQLite project.
type Database struct {
	ID           uuid.UUID `yaml:"id"`
	Name         string    `yaml:"name"`
	Description  string    `yaml:"description"`
	Path         string    `yaml:"path"`
	Created      time.Time `yaml:"created"`
	LastAccessed time.Time `yaml:"last_accessed"`
}

// NewDatabase creates a project entry for path.
func NewDatabase(name, description, path string) Database {
	now := time.Now().UTC()
	return Database{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		Path:         path,
		Created:      now,
		LastAccessed: now,
	}
}

func (d Database) String() string {
	return d.Name + ": " + d.Path
}

// WebServer is where the local server listens.
type WebServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the persisted desktop configuration.
type Config struct {
	Version   int        `yaml:"version"`
	Server    WebServer  `yaml:"server"`
	Databases []Database `yaml:"databases"`
	Created   time.Time  `yaml:"created"`
}

// DefaultConfig returns a config with no projects.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server:  WebServer{Host: "127.0.0.1", Port: 5555},
		Created: time.Now().UTC(),
	}
}

// AddDB adds a project at the front of the list.
func (c *Config) AddDB(db Database) {
	c.Databases = slices.Insert(c.Databases, 0, db)
}

// GetDB returns the project with id.
func (c *Config) GetDB(id uuid.UUID) (*Database, error) {
	for i := range c.Databases {
		if c.Databases[i].ID == id {
			return &c.Databases[i], nil
		}
	}
	return nil, ErrProjectNotFound
}

// RemoveDB removes the project with id. The database file is left on disk.
func (c *Config) RemoveDB(id uuid.UUID) error {
	i := slices.IndexFunc(c.Databases, func(d Database) bool { return d.ID == id })
	if i < 0 {
		return ErrProjectNotFound
	}
	c.Databases = slices.Delete(c.Databases, i, i+1)
	return nil
}

// Touch marks a project as just opened.
func (c *Config) Touch(id uuid.UUID) error {
	db, err := c.GetDB(id)
	if err != nil {
		return err
	}
	db.LastAccessed = time.Now().UTC()
	return nil
}

var versionPrefix = regexp.MustCompile(`^(\d+)\.(\d+)`)

// VersionPath returns "<major>_<minor>" for version, ignoring patch and
// pre-release markers.
func VersionPath(version string) (string, error) {
	m := versionPrefix.FindStringSubmatch(version)
	if m == nil {
		return "", eris.Errorf("desktop: cannot parse version %q", version)
	}
	return m[1] + "_" + m[2], nil
}

// AppHome returns the app home directory for version, creating it.
func AppHome(version string) (string, error) {
	if p := os.Getenv(EnvAppHome); p != "" {
		return p, os.MkdirAll(p, 0o755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "desktop: user home")
	}
	vp, err := VersionPath(version)
	if err != nil {
		return "", err
	}

	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = filepath.Join(home, "AppData", "Roaming", "bmds", vp)
	case "darwin":
		dir = filepath.Join(home, "Library", "Application Support", "bmds", vp)
	default:
		dir = filepath.Join(home, ".bmds", vp)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "desktop: create %s", dir)
	}
	return dir, nil
}

// ConfigFile is a Config bound to the file it was read from.
type ConfigFile struct {
	Path   string
	Config *Config
}

// LoadConfig reads the desktop config. An explicit path wins; otherwise
// latest.txt in home names the active config, and a default config is
// written when it is missing or stale.
func LoadConfig(home, path string) (*ConfigFile, error) {
	if path == "" {
		var err error
		if path, err = activePath(home); err != nil {
			return nil, err
		}
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cf := &ConfigFile{Path: path, Config: DefaultConfig()}
		return cf, cf.Sync()
	}
	if err != nil {
		return nil, eris.Wrapf(err, "desktop: read %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, eris.Wrapf(err, "desktop: parse %s", path)
	}
	return &ConfigFile{Path: path, Config: &cfg}, nil
}

func activePath(home string) (string, error) {
	latest := filepath.Join(home, latestFile)
	if b, err := os.ReadFile(latest); err == nil {
		p := strings.TrimSpace(string(b))
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	p, err := filepath.Abs(filepath.Join(home, defaultConfig))
	if err != nil {
		return "", eris.Wrap(err, "desktop: resolve config path")
	}
	cf := &ConfigFile{Path: p, Config: DefaultConfig()}
	if err := cf.Sync(); err != nil {
		return "", err
	}
	if err := os.WriteFile(latest, []byte(p), 0o644); err != nil {
		return "", eris.Wrap(err, "desktop: write latest.txt")
	}
	return p, nil
}

// Sync writes the config to disk.
func (cf *ConfigFile) Sync() error {
	b, err := yaml.Marshal(cf.Config)
	if err != nil {
		return eris.Wrap(err, "desktop: encode config")
	}
	if err := os.MkdirAll(filepath.Dir(cf.Path), 0o755); err != nil {
		return eris.Wrap(err, "desktop: create config dir")
	}
	return eris.Wrapf(os.WriteFile(cf.Path, b, 0o644), "desktop: write %s", cf.Path)
}
