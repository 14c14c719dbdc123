// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local fallback file for
// development machines without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnv          = "local"
	defaultFallbackPath = ".secrets.local"
	meterScope          = "github.com/threadcart/api/internal/platform/secrets"
)

// accessClient is the slice of the Secret Manager API the fetcher uses.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type cached struct {
	value     string
	canonical string
	fetchedAt time.Time
	source    string
}

// Fetcher resolves secret references. Values are cached for the process
// lifetime; Invalidate drops a cached secret after rotation.
type Fetcher struct {
	client      accessClient
	ownsClient  bool
	logger      *zap.Logger
	env         string
	defaultProj string
	projects    map[string]string
	pins        map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cached

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type settings struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projects     map[string]string
	pins         map[string]string
	fallbackPath string
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

// Option adjusts Fetcher construction.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the environment key for project lookups.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when no mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projects = cloneMap(m) }
}

// WithVersionPins overrides the version chosen for specific references.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = cloneMap(pins) }
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient injects a prebuilt client, mainly for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not
// fatal: resolution then runs purely off the fallback file, which is the
// normal mode on developer machines.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))),
		fallbackPath: defaultFallbackPath,
	}
	if s.env == "" {
		s.env = defaultEnv
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	meter := s.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterScope)
	}

	f := &Fetcher{
		logger:       s.logger,
		env:          s.env,
		defaultProj:  s.defaultProj,
		projects:     cloneMap(s.projects),
		pins:         cloneMap(s.pins),
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cached),
	}

	if h, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret fetch attempts"),
	); err != nil {
		s.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		f.latency = h
	}
	if c, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Cache hits while resolving secrets"),
	); err != nil {
		s.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	} else {
		f.cacheHits = c
	}

	if s.client != nil {
		f.client = s.client
	} else if client, err := newSecretManagerClient(ctx, s.clientOpts...); err != nil {
		s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
	} else {
		f.client = client
		f.ownsClient = true
	}

	return f, nil
}

// Close releases the Secret Manager client if the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for ref, consulting the cache, then
// Secret Manager, then the fallback file.
func (f *Fetcher) Resolve(ctx context.Context, rawRef string) (string, error) {
	start := time.Now()
	ref, err := parseRef(rawRef)
	if err != nil {
		return "", err
	}

	version := f.pickVersion(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.fromCache(key); ok {
		f.countCacheHit(ctx, ref)
		f.observe(ctx, start, "cache", nil)
		return value, nil
	}

	if project := f.pickProject(ref); project != "" && f.client != nil {
		value, err := f.fetchVersion(ctx, project, ref.name, version)
		if err == nil {
			f.toCache(key, ref.canonical, value, "remote")
			f.observe(ctx, start, "remote", nil)
			return value, nil
		}
		if !fallbackWorthy(err) {
			f.observe(ctx, start, "error", err)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: trying fallback file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := f.fromFallback(ref, version)
	if !ok {
		err := fmt.Errorf("secrets: no fallback value for %s", ref.canonical)
		f.observe(ctx, start, "error", err)
		return "", err
	}
	f.toCache(key, ref.canonical, value, "fallback")
	f.observe(ctx, start, "fallback", nil)
	return value, nil
}

// Invalidate drops every cached version of the referenced secret, so
// the next Resolve refetches after a rotation.
func (f *Fetcher) Invalidate(rawRef string) {
	ref, err := parseRef(rawRef)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) fromCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) toCache(key, canonical, value, source string) {
	f.mu.Lock()
	f.cache[key] = cached{
		value:     value,
		canonical: canonical,
		fetchedAt: time.Now(),
		source:    source,
	}
	f.mu.Unlock()
}

func (f *Fetcher) fetchVersion(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) pickProject(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProj)
}

// pickVersion prefers an explicit version on the reference, then an
// environment-scoped pin, then a global pin, then latest.
func (f *Fetcher) pickVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if f.env != "" {
		if pin := strings.TrimSpace(f.pins[f.env+":"+ref.canonical]); pin != "" {
			return pin
		}
	}
	if pin := strings.TrimSpace(f.pins[ref.canonical]); pin != "" {
		return pin
	}
	return "latest"
}

func (f *Fetcher) fromFallback(ref secretRef, version string) (string, bool) {
	f.loadFallbackFile()
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if v, ok := f.fallback[versionedKey(ref.canonical, version)]; ok {
		return v, true
	}
	v, ok := f.fallback[ref.canonical]
	return v, ok
}

// loadFallbackFile parses the dotenv-style fallback file once. Keys are
// secret references (secret:// or sm://), values are the secrets.
func (f *Fetcher) loadFallbackFile() {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}

		path := strings.TrimSpace(f.fallbackPath)
		if path == "" {
			return
		}
		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			rawKey, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key := normalizeScheme(strings.TrimSpace(rawKey))
			value = strings.TrimSpace(value)
			if key == "" {
				continue
			}
			ref, err := parseRef(key)
			if err != nil {
				f.fallback[key] = value
				continue
			}
			version := ref.version
			if version == "" {
				version = "latest"
			}
			f.fallback[ref.canonical] = value
			f.fallback[versionedKey(ref.canonical, version)] = value
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
		}
	})
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string, err error) {
	if f.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref secretRef) {
	if f.cacheHits == nil {
		return
	}
	// Metric labels carry a digest instead of the secret name.
	sum := sha256.Sum256([]byte(ref.canonical))
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", hex.EncodeToString(sum[:8]))))
}

// fallbackWorthy reports whether a Secret Manager failure should fall
// through to the local file instead of failing the caller.
func fallbackWorthy(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
