// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"log/slog"
	"sync/atomic"

	"github.com/tombee/kiwi/internal/auth"
	"github.com/tombee/kiwi/internal/envresolve"
	"github.com/tombee/kiwi/internal/extractor"
	"github.com/tombee/kiwi/internal/lockfile"
	"github.com/tombee/kiwi/internal/log"
	"github.com/tombee/kiwi/internal/primitive/httpprimitive"
	"github.com/tombee/kiwi/internal/primitive/subprocess"
	"github.com/tombee/kiwi/internal/secrets"
	"github.com/tombee/kiwi/internal/store"
	"github.com/tombee/kiwi/internal/tracing"
	"github.com/tombee/kiwi/pkg/manifest"
	"github.com/tombee/kiwi/pkg/observability"
)

// defaultMaxChainLength bounds executor_id resolution depth before a
// chain that never reaches a primitive is treated as malformed rather
// than looped forever.
const defaultMaxChainLength = 32

// Config wires a Kernel's scope roots, auth backend, and observability
// hooks. Every field has a usable zero value except where noted;
// DefaultConfig returns one ready for a project with no roots set.
type Config struct {
	// ProjectRoot, KiwiRoot, UserRoot, BundledRoot are scanned for
	// tool manifests in that precedence order; BundledRoot typically
	// holds the primitives (subprocess, http) shipped with the
	// kernel itself. An empty root is skipped.
	ProjectRoot string
	KiwiRoot    string
	UserRoot    string
	BundledRoot string

	// AllowDotEnv lets the Env Resolver overlay a project-root .env
	// file ahead of declared interpreter/env resolution.
	AllowDotEnv bool

	// AuthServicePrefix namespaces credentials in the secret backend
	// (servicePrefix/service/field). AuthService is the service name
	// a chain's required_scope is checked against — spec examples use
	// "supabase".
	AuthServicePrefix string
	AuthService       string
	Refresher         auth.Refresher

	// DefaultUseLockfile and DefaultVerifyIntegrity apply when an
	// Execute call's Options leaves the corresponding field zero.
	DefaultUseLockfile     lockfile.Mode
	DefaultVerifyIntegrity IntegrityMode

	// MaxChainLength overrides defaultMaxChainLength when positive.
	MaxChainLength int

	// HTTPRateLimitPerSec and HTTPRateLimitBurst configure the HTTP
	// primitive's per-host rate limiter. Zero disables rate limiting.
	HTTPRateLimitPerSec float64
	HTTPRateLimitBurst  int

	// Logger, Tracer, and Metrics are optional; a nil Logger gets
	// log.New(log.FromEnv()), a nil Tracer or Metrics simply disables
	// the corresponding instrumentation.
	Logger  *slog.Logger
	Tracer  observability.Tracer
	Metrics *tracing.MetricsCollector
}

// DefaultConfig returns a Config with no scope roots set and
// conservative lockfile/integrity defaults (warn, off). Callers
// assign ProjectRoot/UserRoot/BundledRoot before passing it to New.
func DefaultConfig() Config {
	return Config{
		AuthServicePrefix:      "kiwi",
		AuthService:            "supabase",
		DefaultUseLockfile:     lockfile.ModeWarn,
		DefaultVerifyIntegrity: IntegrityOff,
		MaxChainLength:         defaultMaxChainLength,
	}
}

// Kernel is the trusted supervisor over tool resolution and
// execution. Build one with New; it is safe for concurrent use.
type Kernel struct {
	cfg Config

	store      *store.Store
	extractor  *extractor.Extractor
	lockfiles  *lockfile.Store
	authStore  *auth.Store
	subprocess *subprocess.Primitive
	http       *httpprimitive.Primitive

	envRoots envresolve.ScopeRoots

	logger  *slog.Logger
	tracer  observability.Tracer
	metrics *tracing.MetricsCollector

	activeCalls int64
}

// New wires a Kernel from cfg: an Artefact Store and Metadata
// Extractor over the configured scope roots, a Lockfile Store over
// project and user scope, an Auth Store backed by the OS keychain
// (falling back to environment-variable credentials), and the
// subprocess and HTTP terminal primitives.
func New(cfg Config) (*Kernel, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.FromEnv())
	}
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = defaultMaxChainLength
	}
	if cfg.DefaultUseLockfile == "" {
		cfg.DefaultUseLockfile = lockfile.ModeWarn
	}
	if cfg.DefaultVerifyIntegrity == "" {
		cfg.DefaultVerifyIntegrity = IntegrityOff
	}
	if cfg.AuthServicePrefix == "" {
		cfg.AuthServicePrefix = "kiwi"
	}

	ex := extractor.New()

	var roots []store.Root
	if cfg.ProjectRoot != "" {
		roots = append(roots, store.Root{Scope: manifest.ScopeProject, Path: cfg.ProjectRoot})
	}
	if cfg.UserRoot != "" {
		roots = append(roots, store.Root{Scope: manifest.ScopeUser, Path: cfg.UserRoot})
	}
	if cfg.BundledRoot != "" {
		roots = append(roots, store.Root{Scope: manifest.ScopeBundled, Path: cfg.BundledRoot})
	}
	st := store.New(roots, ex)

	lockRoots := map[manifest.Scope]string{}
	if cfg.ProjectRoot != "" {
		lockRoots[manifest.ScopeProject] = cfg.ProjectRoot
	}
	if cfg.UserRoot != "" {
		lockRoots[manifest.ScopeUser] = cfg.UserRoot
	}
	lockStore := lockfile.NewStore(lockRoots)

	backend := secrets.NewResolver(secrets.NewKeychainBackend(), secrets.NewEnvBackend())
	authStore := auth.NewStore(backend, cfg.AuthServicePrefix, cfg.Refresher)

	var httpOpts []httpprimitive.Option
	if cfg.HTTPRateLimitPerSec > 0 {
		httpOpts = append(httpOpts, httpprimitive.WithPerHostRateLimit(cfg.HTTPRateLimitPerSec, cfg.HTTPRateLimitBurst))
	}

	k := &Kernel{
		cfg:        cfg,
		store:      st,
		extractor:  ex,
		lockfiles:  lockStore,
		authStore:  authStore,
		subprocess: subprocess.New(),
		http:       httpprimitive.New(httpOpts...),
		envRoots: envresolve.ScopeRoots{
			Project: cfg.ProjectRoot,
			Kiwi:    cfg.KiwiRoot,
			User:    cfg.UserRoot,
		},
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
	}

	if cfg.Metrics != nil {
		cfg.Metrics.SetExtractorCache(ex)
		cfg.Metrics.SetStoreCache(st)
		cfg.Metrics.SetActiveCallCounter(k)
	}

	return k, nil
}

// ActiveCallCount implements tracing.ActiveCallCounter.
func (k *Kernel) ActiveCallCount() int {
	return int(atomic.LoadInt64(&k.activeCalls))
}

// Reload forces the Artefact Store to rescan its scope roots on next
// use, picking up manifests added or removed since the Kernel was
// built or last reloaded.
func (k *Kernel) Reload() {
	k.store.Reload()
}
