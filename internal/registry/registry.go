// Package registry caches loaded scoring backends by model id. The cache is
// owned by its caller: nothing is global, and entries leave only through
// Invalidate or Close.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
)

// Ext is the extension of model descriptor files.
const Ext = ".yaml"

const envModelsDir = "CAPPR_MODELS_DIR"

// ErrNotFound is returned when a model id does not resolve to a descriptor.
var ErrNotFound = errors.New("model not found")

// LoadFunc builds a backend from a resolved descriptor path.
type LoadFunc[T any] func(ctx context.Context, path string) (T, error)

type Config[T any] struct {
	DefaultModelPath string
	ModelsPath       string
	Load             LoadFunc[T]
}

// Registry loads each model once and serializes use of each loaded backend.
type Registry[T any] struct {
	cfg   Config[T]
	mu    sync.Mutex
	cache map[string]*entry[T]
}

type entry[T any] struct {
	backend T
	mu      sync.Mutex
}

func New[T any](cfg Config[T]) *Registry[T] {
	return &Registry[T]{
		cfg:   cfg,
		cache: make(map[string]*entry[T]),
	}
}

// With runs fn with the backend for modelID, loading it on first use. Calls
// for the same model run one at a time.
func (r *Registry[T]) With(ctx context.Context, modelID string, fn func(T) error) error {
	path, err := r.Resolve(modelID)
	if err != nil {
		return err
	}
	e, err := r.getOrLoad(ctx, path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(e.backend)
}

func (r *Registry[T]) getOrLoad(ctx context.Context, path string) (*entry[T], error) {
	r.mu.Lock()
	e, ok := r.cache[path]
	r.mu.Unlock()
	if ok {
		return e, nil
	}

	backend, err := r.cfg.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	e = &entry[T]{backend: backend}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[path]; ok {
		if err := closeBackend(backend); err != nil {
			logger.FromContext(ctx).Warn("close duplicate backend", "path", path, "error", err)
		}
		return existing, nil
	}
	r.cache[path] = e
	return e, nil
}

// Loaded reports whether modelID is in the cache.
func (r *Registry[T]) Loaded(modelID string) bool {
	path, err := r.Resolve(modelID)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[path]
	return ok
}

// Invalidate drops modelID from the cache, closing its backend if it is an
// io.Closer. The next With loads it again.
func (r *Registry[T]) Invalidate(modelID string) error {
	path, err := r.Resolve(modelID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e, ok := r.cache[path]
	delete(r.cache, path)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return closeBackend(e.backend)
}

// Close invalidates every entry.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	entries := r.cache
	r.cache = make(map[string]*entry[T])
	r.mu.Unlock()

	var err error
	for _, e := range entries {
		e.mu.Lock()
		err = multierr.Append(err, closeBackend(e.backend))
		e.mu.Unlock()
	}
	return err
}

func closeBackend(b any) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ListModels returns the ids that With can resolve without a path.
func (r *Registry[T]) ListModels() ([]string, error) {
	seen := make(map[string]struct{})
	if r.cfg.DefaultModelPath != "" {
		seen[modelName(r.cfg.DefaultModelPath)] = struct{}{}
	}
	if dir := r.modelsDir(); dir != "" {
		paths, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			seen[modelName(p)] = struct{}{}
		}
	}
	models := make([]string, 0, len(seen))
	for name := range seen {
		models = append(models, name)
	}
	sort.Strings(models)
	return models, nil
}

// Resolve maps a model id to a descriptor path. An empty id picks the default
// model, or the only model in the models directory.
func (r *Registry[T]) Resolve(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if strings.Contains(modelID, string(filepath.Separator)) {
			return filepath.Clean(modelID), nil
		}
		if r.cfg.DefaultModelPath != "" && modelName(r.cfg.DefaultModelPath) == modelID {
			return filepath.Clean(r.cfg.DefaultModelPath), nil
		}
		modelsDir := r.modelsDir()
		if resolved := resolveInDir(modelsDir, modelID); resolved != "" {
			return resolved, nil
		}
		if looksLikePath(modelID) {
			return filepath.Clean(modelID), nil
		}
		if modelsDir == "" {
			return "", errdefs.Precondition("models-path is required to resolve model %q", modelID)
		}
		return "", fmt.Errorf("%w: %q in %s", ErrNotFound, modelID, modelsDir)
	}

	if r.cfg.DefaultModelPath != "" {
		return filepath.Clean(r.cfg.DefaultModelPath), nil
	}
	modelsDir := r.modelsDir()
	if modelsDir == "" {
		return "", errdefs.InvalidInput("model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no %s descriptors in %s", ErrNotFound, Ext, modelsDir)
	default:
		return "", errdefs.InvalidInput("multiple models found in %s; specify model", modelsDir)
	}
}

func (r *Registry[T]) modelsDir() string {
	if dir := strings.TrimSpace(r.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

func modelName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func looksLikePath(v string) bool {
	if strings.Contains(v, string(filepath.Separator)) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(v), Ext)
}

func resolveInDir(dir, name string) string {
	if dir == "" {
		return ""
	}
	cand := filepath.Join(dir, name)
	if fileExists(cand) {
		return cand
	}
	if !strings.HasSuffix(strings.ToLower(name), Ext) {
		cand = filepath.Join(dir, name+Ext)
		if fileExists(cand) {
			return cand
		}
	}
	return ""
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errdefs.Precondition("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), Ext) {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	return models, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
