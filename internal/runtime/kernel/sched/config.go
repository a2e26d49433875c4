package sched

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
)

// ConfigVersion is the tunable profile schema version this build
// understands. A profile file declares the range of versions it is
// compatible with via SchemaCompat; profiles outside that range are
// rejected rather than silently misapplied.
const ConfigVersion = "1.0.0"

// TunableProfile is the JSON-serializable set of scheduler tunables (spec
// §6 configuration surface), grounded on the teacher's internal/cli.Config
// load/save pattern.
type TunableProfile struct {
	SchemaCompat string `json:"schema_compat"`

	SchedLatencyNs      uint64 `json:"sched_latency_ns"`
	MinGranularityNs    uint64 `json:"min_granularity_ns"`
	WakeupGranularityNs uint64 `json:"wakeup_granularity_ns"`

	RTRuntimeNs uint64 `json:"rt_runtime_ns"`
	RTPeriodNs  uint64 `json:"rt_period_ns"`

	TickHz int `json:"tick_hz"`

	ImbalancePct int `json:"imbalance_pct"`
}

// DefaultProfile returns the tunables matching the constants defined
// alongside FairClass/RTClass.
func DefaultProfile() TunableProfile {
	return TunableProfile{
		SchemaCompat:        "^1.0.0",
		SchedLatencyNs:      SchedLatencyNs,
		MinGranularityNs:    MinGranularityNs,
		WakeupGranularityNs: WakeupGranularityNs,
		RTRuntimeNs:         DefaultRTRuntimeNs,
		RTPeriodNs:          DefaultRTPeriodNs,
		TickHz:              1000,
		ImbalancePct:        25,
	}
}

// LoadProfile reads and validates a tunable profile from path.
func LoadProfile(path string) (TunableProfile, error) {
	var p TunableProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse config: %w", err)
	}
	if err := p.validateCompat(); err != nil {
		return p, err
	}
	return p, nil
}

// Save writes the profile as indented JSON, mirroring
// internal/cli.Config.Save.
func (p TunableProfile) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p TunableProfile) validateCompat() error {
	if p.SchemaCompat == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(p.SchemaCompat)
	if err != nil {
		return fmt.Errorf("invalid schema_compat constraint %q: %w", p.SchemaCompat, err)
	}
	v, err := semver.NewVersion(ConfigVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config schema_compat %q does not admit running scheduler version %s", p.SchemaCompat, ConfigVersion)
	}
	return nil
}

// LiveConfig holds the currently-active TunableProfile behind an
// atomic.Pointer, plus (optionally) an fsnotify watch that hot-reloads it
// from disk, grounded on internal/runtime/vfs/watch_fsnotify.go's
// Watcher/Events/Errors loop.
type LiveConfig struct {
	current atomic.Pointer[TunableProfile]

	path    string
	watcher *fsnotify.Watcher
	log     *Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLiveConfig wraps an initial profile for atomic, lock-free reads from
// the scheduler's hot paths.
func NewLiveConfig(initial TunableProfile) *LiveConfig {
	lc := &LiveConfig{stopCh: make(chan struct{})}
	lc.current.Store(&initial)
	return lc
}

// Get returns the current profile. Safe to call from any goroutine
// without locking.
func (lc *LiveConfig) Get() TunableProfile {
	return *lc.current.Load()
}

// Set atomically replaces the current profile, e.g. from WatchFile's
// reload callback or a direct API call.
func (lc *LiveConfig) Set(p TunableProfile) {
	lc.current.Store(&p)
}

// WatchFile starts an fsnotify watch on path; every Write event triggers a
// reload-and-validate, logging and ignoring (keeping the last-good
// profile) on any error so a bad edit never blocks the scheduler.
func (lc *LiveConfig) WatchFile(path string, log *Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return fmt.Errorf("watch config %s: %w", path, err)
	}
	lc.path = path
	lc.watcher = w
	lc.log = log

	go lc.watchLoop()
	return nil
}

func (lc *LiveConfig) watchLoop() {
	for {
		select {
		case ev, ok := <-lc.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p, err := LoadProfile(lc.path)
			if err != nil {
				if lc.log != nil {
					lc.log.Warn("config reload of %s rejected: %v", lc.path, err)
				}
				continue
			}
			lc.Set(p)
			if lc.log != nil {
				lc.log.Info("config reloaded from %s", lc.path)
			}
		case err, ok := <-lc.watcher.Errors:
			if !ok {
				return
			}
			if lc.log != nil {
				lc.log.Warn("config watcher error: %v", err)
			}
		case <-lc.stopCh:
			return
		}
	}
}

// Close stops the watch goroutine and releases the fsnotify watcher.
func (lc *LiveConfig) Close() error {
	lc.stopOnce.Do(func() { close(lc.stopCh) })
	if lc.watcher != nil {
		return lc.watcher.Close()
	}
	return nil
}
