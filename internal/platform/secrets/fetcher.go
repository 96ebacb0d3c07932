package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFallbackPath = ".secrets.local"

// accessClient is the slice of the Secret Manager client the fetcher needs,
// kept narrow so tests can stub it.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager with
// an in-memory cache and a local fallback file for offline development.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]string
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFallbackFile points the fetcher at a different local secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

// WithClient injects a preconfigured client, primarily for tests.
func WithClient(client accessClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher builds a Fetcher bound to the given default project. When the
// Secret Manager client cannot be created the fetcher degrades to
// fallback-file-only mode rather than failing startup.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		projectID:    strings.TrimSpace(projectID),
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	if f.client == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret fetches the secret value named by ref, consulting the cache,
// then Secret Manager, then the local fallback file. Implements
// config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, version, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := name + "#" + version

	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if f.client != nil && f.projectID != "" {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		if err == nil && resp.GetPayload() != nil {
			value := string(resp.GetPayload().GetData())
			f.mu.Lock()
			f.cache[key] = value
			f.mu.Unlock()
			return value, nil
		}
		if err != nil && !retriableToFallback(err) {
			return "", fmt.Errorf("secrets: fetch %s: %w", name, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("secret", name), zap.Error(err))
	}

	if value, ok := f.lookupFallback(ref); ok {
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		return value, nil
	}
	return "", fmt.Errorf("secrets: no value available for %s", name)
}

func (f *Fetcher) lookupFallback(ref string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	value, ok := f.fallback[strings.TrimSpace(ref)]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}

	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets: cannot read fallback file", zap.Error(err))
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
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(key, "sm://") {
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		}
		if key != "" {
			f.fallback[key] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("secrets: failed reading fallback file", zap.Error(err))
	}
}

// parseReference splits secret://name?version=N into its parts. The version
// defaults to latest.
func parseReference(ref string) (name, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", "", errors.New("secrets: empty reference")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return "", "", fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name = strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return "", "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version = strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return name, version, nil
}

func retriableToFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
