package desktop

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/store"
)

// ErrRunning is returned when Start is called on a running Runner.
var ErrRunning = eris.New("desktop: server already running")

// HandlerFactory builds the HTTP handler for an opened project store.
type HandlerFactory func(st store.Store) (http.Handler, error)

// Runner serves one project at a time.
type Runner struct {
	factory HandlerFactory

	mu    sync.Mutex
	srv   *http.Server
	st    store.Store
	done  chan error
	url   string
	ready bool
}

// NewRunner creates a Runner.
func NewRunner(factory HandlerFactory) *Runner {
	return &Runner{factory: factory}
}

// Start opens and migrates the project database and serves it on the
// configured address. It returns the server URL.
func (r *Runner) Start(ctx context.Context, server WebServer, db Database) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return "", ErrRunning
	}

	st, err := store.NewSQLite(db.Path)
	if err != nil {
		return "", err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return "", err
	}
	handler, err := r.factory(st)
	if err != nil {
		st.Close() //nolint:errcheck
		return "", err
	}

	addr := net.JoinHostPort(server.Host, fmt.Sprint(server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		st.Close() //nolint:errcheck
		return "", eris.Wrapf(err, "desktop: listen %s", addr)
	}

	r.srv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	r.st = st
	r.url = "http://" + ln.Addr().String()
	r.done = make(chan error, 1)
	r.ready = true

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(r.srv, r.done)

	zap.L().Info("desktop: server started", zap.String("url", r.url), zap.String("project", db.String()))
	return r.url, nil
}

// Running reports whether a project is being served.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Wait blocks until the server stops on its own or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		done <- err
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop shuts the server down and closes the project database.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil
	}
	r.ready = false

	zap.L().Info("desktop: stopping server", zap.String("url", r.url))
	err := r.srv.Shutdown(ctx)
	if cerr := r.st.Close(); err == nil {
		err = cerr
	}
	return eris.Wrap(err, "desktop: stop server")
}
