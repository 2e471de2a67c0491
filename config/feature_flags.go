package config

import (
	"errors"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Flag names.
const (
	// FeatureIngestAutoRecluster re-runs clustering after a CSV import.
	FeatureIngestAutoRecluster = "ingest.auto_recluster"

	// FeatureAnalysisCache keeps class analyses in Redis.
	FeatureAnalysisCache = "analysis.cache"

	// FeatureFormationDistributedLock adds a Redis lock per material on top
	// of the store lock.
	FeatureFormationDistributedLock = "formation.distributed_lock"

	// FeatureEventLog writes every domain event to the log at info level.
	FeatureEventLog = "events.log"
)

var (
	ErrFeatureNotFound       = errors.New("feature flag not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Flag is one runtime toggle. Rollout is the share of materials, 0 to
// 100, that see the flag on.
type Flag struct {
	Name        string
	Description string
	Rollout     int
}

// On reports whether the flag is on for at least some materials.
func (f Flag) On() bool { return f.Rollout > 0 }

var defaultFlags = []Flag{
	{FeatureIngestAutoRecluster, "Recluster all profiles after a CSV import", 100},
	{FeatureAnalysisCache, "Cache class analysis in Redis", 100},
	{FeatureFormationDistributedLock, "Serialize formation runs across nodes with a Redis lock", 100},
	{FeatureEventLog, "Log every domain event", 0},
}

// FeatureFlags holds the flags and per-material overrides. A partial
// rollout buckets materials by a hash of flag and material, so one
// material keeps its answer across restarts. A nil *FeatureFlags has
// every flag off.
type FeatureFlags struct {
	mu        sync.RWMutex
	flags     map[string]*Flag
	overrides map[string]map[string]bool // material -> flag -> on
}

// NewFeatureFlags returns the defaults.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		flags:     make(map[string]*Flag, len(defaultFlags)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFlags {
		f := f
		ff.flags[f.Name] = &f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME> variables to the defaults. A
// value is a bool or a rollout percent:
//
//	FEATURE_INGEST_AUTO_RECLUSTER=false
//	FEATURE_ANALYSIS_CACHE=25
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.flags {
		if p, ok := parseRollout(os.Getenv(EnvKey(name))); ok {
			f.Rollout = p
		}
	}
	return ff
}

func parseRollout(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// EnvKey maps "ingest.auto_recluster" to "FEATURE_INGEST_AUTO_RECLUSTER".
func EnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// Enabled reports whether name is on for materialID. An empty material
// ignores partial rollouts: the flag is on when any share is.
func (ff *FeatureFlags) Enabled(name, materialID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[materialID][name]; ok && materialID != "" {
		return on
	}
	f, ok := ff.flags[name]
	if !ok {
		return false
	}
	switch {
	case f.Rollout >= 100:
		return true
	case f.Rollout <= 0:
		return false
	case materialID == "":
		return true
	}
	return bucket(name, materialID) < f.Rollout
}

func bucket(name, materialID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(materialID))
	return int(h.Sum32() % 100)
}

// Override pins name on or off for one material.
func (ff *FeatureFlags) Override(materialID, name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	m, ok := ff.overrides[materialID]
	if !ok {
		m = make(map[string]bool)
		ff.overrides[materialID] = m
	}
	m[name] = on
}

// SetRollout changes the share of materials that see name on.
func (ff *FeatureFlags) SetRollout(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.flags[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Rollout = percent
	return nil
}

// Disable turns name off everywhere except explicit overrides.
func (ff *FeatureFlags) Disable(name string) error { return ff.SetRollout(name, 0) }

// Snapshot returns every flag sorted by name.
func (ff *FeatureFlags) Snapshot() []Flag {
	if ff == nil {
		return nil
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Flag, 0, len(ff.flags))
	for _, f := range ff.flags {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
