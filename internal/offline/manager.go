package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is a lifecycle state of the cache manager.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	// StateActivated is the steady state in which requests are mediated
	// through the cache.
	StateActivated State = "activated"
	StateFailed    State = "failed"
)

const (
	// DefaultVersion is the cache bucket name of the current generation.
	DefaultVersion = "solo-leveling-v1"

	defaultMaxBodyBytes    = 32 << 20
	defaultInstallAttempts = 3
	defaultInstallBackoff  = time.Second
)

// DefaultManifest lists the application shell assets cached on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/quests.html",
	"/habits.html",
	"/rewards.html",
	"/awakening.html",
	"/style.css",
	"/app.js",
	"/manifest.json",
}

var (
	// ErrInvalidTransition indicates a lifecycle operation called from the wrong state.
	ErrInvalidTransition = errors.New("offline: invalid lifecycle transition")
	// ErrInstallFailed indicates that at least one manifest asset could not be cached.
	ErrInstallFailed = errors.New("offline: install failed")
	// ErrUpstreamUnavailable indicates a bypassed request whose network fetch failed.
	ErrUpstreamUnavailable = errors.New("offline: upstream unavailable")
	// ErrResponseTooLarge indicates an upstream body above the configured limit.
	ErrResponseTooLarge = errors.New("offline: response body too large")

	errMissingStorage = errors.New("cache storage is required")
	errMissingOrigin  = errors.New("origin url is required")
	errMissingVersion = errors.New("cache version is required")
)

// hop-by-hop headers are never forwarded or cached.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(request *http.Request) (*http.Response, error)
}

// Response is a fully buffered mediated response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Source is one of metrics.SourceNetwork, SourceCache, SourceOffline or SourceBypass.
	Source string
}

type ManagerConfig struct {
	Version         string
	Origin          string
	Manifest        []string
	Storage         Storage
	Client          Fetcher
	Presenter       Presenter
	InstallAttempts int
	InstallBackoff  time.Duration
	// MaxBodyBytes caps buffered response bodies. Zero selects 32 MiB.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Manager mediates application-shell requests through a versioned cache
// generation. It moves through idle → installing → installed → activating →
// activated; a failed install may be retried.
type Manager struct {
	version         string
	origin          *url.URL
	manifest        []string
	storage         Storage
	client          Fetcher
	presenter       Presenter
	installAttempts int
	installBackoff  time.Duration
	maxBodyBytes    int64
	logger          *zap.Logger
	lifetime        Lifetime

	mu    sync.RWMutex
	state State
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if strings.TrimSpace(cfg.Version) == "" {
		return nil, errMissingVersion
	}
	if strings.TrimSpace(cfg.Origin) == "" {
		return nil, errMissingOrigin
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("offline: parse origin: %w", err)
	}
	if !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("offline: origin must be an absolute url, got %q", cfg.Origin)
	}

	manifest := cfg.Manifest
	if len(manifest) == 0 {
		manifest = DefaultManifest
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	presenter := cfg.Presenter
	if presenter == nil {
		presenter = nopPresenter{}
	}
	attempts := cfg.InstallAttempts
	if attempts <= 0 {
		attempts = defaultInstallAttempts
	}
	installBackoff := cfg.InstallBackoff
	if installBackoff <= 0 {
		installBackoff = defaultInstallBackoff
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		version:         cfg.Version,
		origin:          origin,
		manifest:        append([]string(nil), manifest...),
		storage:         cfg.Storage,
		client:          client,
		presenter:       presenter,
		installAttempts: attempts,
		installBackoff:  installBackoff,
		maxBodyBytes:    maxBody,
		logger:          logger.With(zap.String("cache_version", cfg.Version)),
		state:           StateIdle,
	}, nil
}

// Version returns the name of the current cache generation.
func (m *Manager) Version() string {
	return m.version
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) transition(to State, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range from {
		if m.state == allowed {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Start installs the current generation, retrying with exponential backoff,
// and activates it as soon as the install succeeds.
func (m *Manager) Start(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.installBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.Install(ctx)
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrShuttingDown) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			m.logger.Warn("cache install attempt failed", zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(m.installAttempts)))
	if err != nil {
		return err
	}

	_, err = m.Activate(ctx)
	return err
}

// Install fetches every manifest asset and stores them under the current
// version. Any single failure rejects the whole install and nothing is
// written.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition(StateInstalling, StateIdle, StateFailed); err != nil {
		return err
	}
	m.logger.Info("cache installing", zap.Int("assets", len(m.manifest)))

	err := m.lifetime.WaitUntil(func() error {
		return m.install(ctx)
	})
	if err != nil {
		m.setState(StateFailed)
		metrics.CacheInstallTotal.WithLabelValues(metrics.ResultFailure).Inc()
		m.logger.Error("cache install failed", zap.Error(err))
		return err
	}

	m.setState(StateInstalled)
	metrics.CacheInstallTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	m.logger.Info("cache installed")
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	entries := make([]Entry, len(m.manifest))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, path := range m.manifest {
		group.Go(func() error {
			entry, err := m.fetchAsset(groupCtx, path)
			if err != nil {
				return err
			}
			entries[index] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	if err := m.storage.PutAll(ctx, m.version, entries); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, path string) (Entry, error) {
	target, err := m.origin.Parse(path)
	if err != nil {
		return Entry{}, fmt.Errorf("asset %s: %w", path, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return Entry{}, fmt.Errorf("asset %s: %w", path, err)
	}
	response, err := m.roundTrip(request)
	if err != nil {
		return Entry{}, fmt.Errorf("asset %s: %w", path, err)
	}
	if response.Status != http.StatusOK {
		return Entry{}, fmt.Errorf("asset %s: unexpected status %d", path, response.Status)
	}
	return Entry{
		Key:    RequestKey(http.MethodGet, target.String()),
		URL:    target.String(),
		Status: response.Status,
		Header: response.Header,
		Body:   response.Body,
	}, nil
}

// Activate deletes every cache generation other than the current version and
// then claims request mediation. Deletion completes before any request is
// cached under the current version. It returns the deleted generation names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	if err := m.transition(StateActivating, StateInstalled); err != nil {
		return nil, err
	}
	m.logger.Info("cache activating")

	var deleted []string
	err := m.lifetime.WaitUntil(func() error {
		names, err := m.storage.Generations(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			if name == m.version {
				continue
			}
			if err := m.storage.Delete(ctx, name); err != nil && !errors.Is(err, ErrGenerationNotFound) {
				return fmt.Errorf("delete generation %s: %w", name, err)
			}
			m.logger.Info("deleted stale cache generation", zap.String("generation", name))
			metrics.CacheGenerationsDeletedTotal.Inc()
			deleted = append(deleted, name)
		}
		return nil
	})
	if err != nil {
		m.setState(StateInstalled)
		m.logger.Error("cache activation failed", zap.Error(err))
		return deleted, err
	}

	m.setState(StateActivated)
	m.logger.Info("cache activated", zap.Strings("deleted", deleted))
	return deleted, nil
}

// Fetch mediates a request. Same-origin GET requests are served network
// first; on network failure the cached copy is returned, and when none
// exists a static offline page. Other requests go straight to the network.
// Before activation nothing is written to the cache, but a generation left
// by an earlier run still answers GETs the network cannot.
func (m *Manager) Fetch(ctx context.Context, request *http.Request) (Response, error) {
	target, sameOrigin := m.resolve(request.URL)

	if request.Method != http.MethodGet || !sameOrigin {
		response, err := m.forward(ctx, request, target)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		response.Source = metrics.SourceBypass
		metrics.CacheFetchTotal.WithLabelValues(metrics.SourceBypass).Inc()
		return response, nil
	}

	key := RequestKey(http.MethodGet, target.String())
	activated := m.State() == StateActivated
	response, err := m.forward(ctx, request, target)
	if err == nil && !activated {
		response.Source = metrics.SourceBypass
		metrics.CacheFetchTotal.WithLabelValues(metrics.SourceBypass).Inc()
		return response, nil
	}
	if err == nil {
		if response.Status == http.StatusOK {
			m.storeAsync(ctx, Entry{
				Key:    key,
				URL:    target.String(),
				Status: response.Status,
				Header: response.Header.Clone(),
				Body:   append([]byte(nil), response.Body...),
			})
		}
		response.Source = metrics.SourceNetwork
		metrics.CacheFetchTotal.WithLabelValues(metrics.SourceNetwork).Inc()
		return response, nil
	}

	if errors.Is(err, ErrResponseTooLarge) {
		m.logger.Warn("upstream body over limit, serving from cache",
			zap.String("url", target.String()), zap.Int64("limit_bytes", m.maxBodyBytes))
	} else {
		m.logger.Debug("network fetch failed, falling back to cache",
			zap.String("url", target.String()), zap.Error(err))
	}

	entry, found, matchErr := m.storage.Match(ctx, m.version, key)
	if matchErr != nil {
		m.logger.Warn("cache lookup failed", zap.String("url", target.String()), zap.Error(matchErr))
	}
	if found {
		metrics.CacheFetchTotal.WithLabelValues(metrics.SourceCache).Inc()
		return Response{
			Status: entry.Status,
			Header: entry.Header,
			Body:   entry.Body,
			Source: metrics.SourceCache,
		}, nil
	}

	metrics.CacheFetchTotal.WithLabelValues(metrics.SourceOffline).Inc()
	return OfflineResponse(), nil
}

func (m *Manager) storeAsync(ctx context.Context, entry Entry) {
	storeCtx := context.WithoutCancel(ctx)
	scheduled := m.lifetime.Go(func() {
		if err := m.storage.Put(storeCtx, m.version, entry); err != nil {
			metrics.CacheWriteErrorsTotal.Inc()
			m.logger.Warn("cache write failed", zap.String("url", entry.URL), zap.Error(err))
		}
	})
	if !scheduled {
		m.logger.Debug("cache write dropped during shutdown", zap.String("url", entry.URL))
	}
}

// Shutdown waits for in-flight installs, activations and cache writes.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.lifetime.Drain(ctx)
}

// resolve maps an incoming request URL onto the upstream origin. Absolute
// URLs pointing at another host are reported as cross-origin.
func (m *Manager) resolve(requestURL *url.URL) (*url.URL, bool) {
	if requestURL.IsAbs() && requestURL.Host != "" {
		sameOrigin := strings.EqualFold(requestURL.Scheme, m.origin.Scheme) &&
			strings.EqualFold(requestURL.Host, m.origin.Host)
		return requestURL, sameOrigin
	}
	target := *m.origin
	target.Path = requestURL.Path
	target.RawPath = requestURL.RawPath
	target.RawQuery = requestURL.RawQuery
	target.Fragment = ""
	return &target, true
}

func (m *Manager) forward(ctx context.Context, request *http.Request, target *url.URL) (Response, error) {
	body := request.Body
	if body == nil {
		body = http.NoBody
	}
	outbound, err := http.NewRequestWithContext(ctx, request.Method, target.String(), body)
	if err != nil {
		return Response{}, err
	}
	outbound.Header = request.Header.Clone()
	if outbound.Header == nil {
		outbound.Header = http.Header{}
	}
	removeHopHeaders(outbound.Header)
	outbound.ContentLength = request.ContentLength
	return m.roundTrip(outbound)
}

func (m *Manager) roundTrip(request *http.Request) (Response, error) {
	response, err := m.client.Do(request)
	if err != nil {
		return Response{}, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, m.maxBodyBytes+1))
	if err != nil {
		return Response{}, err
	}
	if int64(len(payload)) > m.maxBodyBytes {
		return Response{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, request.URL, m.maxBodyBytes)
	}
	header := response.Header.Clone()
	removeHopHeaders(header)
	return Response{Status: response.StatusCode, Header: header, Body: payload}, nil
}

func removeHopHeaders(header http.Header) {
	for _, name := range hopHeaders {
		header.Del(name)
	}
}
