package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"golang.org/x/sync/errgroup"
)

const (
	SharedKey     = "shared"
	stationPrefix = "station-"
	trackPrefix   = "track-"
)

var ErrManagerClosed = errors.New("pipeline manager closed")

func StationKey(stationID string) string { return stationPrefix + stationID }
func TrackKey(trackID string) string     { return trackPrefix + trackID }

// Manager owns the pipelines of every playback context. Tracks share one
// pipeline; each radio station gets its own unless per-station pipelines
// are disabled. Pipelines live until a Cleanup call disposes them.
type Manager struct {
	host graph.Host

	mu         sync.Mutex
	pipelines  map[string]*Pipeline
	perStation bool
	active     string
	closed     bool
}

func NewManager(host graph.Host) *Manager {
	return &Manager{
		host:       host,
		pipelines:  make(map[string]*Pipeline),
		perStation: true,
	}
}

// SetPerStationPipelines controls whether stations get a pipeline of their
// own. When disabled, station lookups return the shared pipeline.
func (m *Manager) SetPerStationPipelines(enabled bool) {
	m.mu.Lock()
	m.perStation = enabled
	m.mu.Unlock()
	log.Printf("per-station pipelines: %v", enabled)
}

func (m *Manager) PerStationPipelines() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perStation
}

// SharedPipeline returns the pipeline used for track playback, creating it
// on first use.
func (m *Manager) SharedPipeline() (*Pipeline, error) {
	return m.Pipeline(SharedKey, true)
}

// StationPipeline returns the pipeline dedicated to stationID, creating it
// on first use.
func (m *Manager) StationPipeline(stationID string) (*Pipeline, error) {
	return m.Pipeline(StationKey(stationID), true)
}

// Pipeline resolves a context key. Track keys and unrecognised keys map to
// the shared pipeline, as do station keys while per-station pipelines are
// off. A station pipeline that does not exist yet is only created when
// createIfMissing is set; otherwise the shared pipeline is returned.
func (m *Manager) Pipeline(key string, createIfMissing bool) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}

	if !strings.HasPrefix(key, stationPrefix) || !m.perStation {
		return m.getOrCreate(SharedKey)
	}
	if p, ok := m.pipelines[key]; ok {
		return p, nil
	}
	if !createIfMissing {
		return m.getOrCreate(SharedKey)
	}
	p, err := m.getOrCreate(key)
	if err == nil {
		log.Printf("created pipeline for %s", key)
	}
	return p, err
}

// must be called with m.mu held
func (m *Manager) getOrCreate(key string) (*Pipeline, error) {
	if p, ok := m.pipelines[key]; ok {
		return p, nil
	}
	p, err := New(key, m.host)
	if err != nil {
		return nil, err
	}
	m.pipelines[key] = p
	return p, nil
}

func (m *Manager) SetActiveContext(key string) {
	m.mu.Lock()
	m.active = key
	m.mu.Unlock()
}

// ActiveContext returns the key last passed to SetActiveContext, or "".
func (m *Manager) ActiveContext() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// CleanupPipeline disposes the pipeline stored under key, if any.
func (m *Manager) CleanupPipeline(key string) error {
	m.mu.Lock()
	p, ok := m.pipelines[key]
	if ok {
		delete(m.pipelines, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.cleanup(key, p)
}

// CleanupAllExceptShared disposes every station pipeline.
func (m *Manager) CleanupAllExceptShared() error {
	m.mu.Lock()
	victims := make(map[string]*Pipeline)
	for k, p := range m.pipelines {
		if k != SharedKey {
			victims[k] = p
			delete(m.pipelines, k)
		}
	}
	m.mu.Unlock()

	var errs []error
	for k, p := range victims {
		if err := m.cleanup(k, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanupAll disposes every pipeline in parallel and clears the active
// context.
func (m *Manager) CleanupAll() error {
	m.mu.Lock()
	victims := m.pipelines
	m.pipelines = make(map[string]*Pipeline)
	m.active = ""
	m.mu.Unlock()

	var g errgroup.Group
	for k, p := range victims {
		g.Go(func() error { return m.cleanup(k, p) })
	}
	return g.Wait()
}

// Dispose cleans up every pipeline and closes the manager; later lookups
// fail with ErrManagerClosed.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.CleanupAll()
}

func (m *Manager) cleanup(key string, p *Pipeline) error {
	if err := p.Cleanup(); err != nil {
		return fmt.Errorf("cleanup %s: %w", key, err)
	}
	return nil
}

// Count is the number of live pipelines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipelines)
}

// Contexts returns the keys of all live pipelines, sorted.
func (m *Manager) Contexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.pipelines))
	for k := range m.pipelines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
