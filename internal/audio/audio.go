// ABOUTME: Manager owns the lifecycle of generated audio: store, serve, expire.
// ABOUTME: Assets are a payload blob plus a JSON sidecar carrying creation metadata.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/speech"
)

// ErrNotFound reports that no stored asset matches the requested name.
var ErrNotFound = errors.New("audio asset not found")

// assetName matches payload names the manager itself mints: a UUID plus a
// known audio extension. Anything else is rejected before touching storage.
var assetName = regexp.MustCompile(`^[a-f0-9-]+\.(mp3|wav|ogg)$`)

// Metadata describes how an asset was produced. All fields are optional.
type Metadata struct {
	Voice            string
	Speed            float64
	DurationSeconds  float64
	SourceTextLength int
}

// Asset is a stored audio payload addressable by URL until it expires.
type Asset struct {
	ID              string
	Name            string
	Format          string
	URL             string
	SizeBytes       int
	DurationSeconds float64
	CreatedAt       time.Time
}

// sidecar is the JSON document stored next to each payload. The sweeper
// reads these to decide what to delete, so they must stay self-contained.
type sidecar struct {
	Filename         string    `json:"filename"`
	Format           string    `json:"format"`
	SizeBytes        int       `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
	Voice            string    `json:"voice,omitempty"`
	Speed            float64   `json:"speed,omitempty"`
	DurationSeconds  float64   `json:"duration_seconds,omitempty"`
	SourceTextLength int       `json:"source_text_length,omitempty"`
}

// Manager stores synthesized audio, serves it back by name, and reaps
// assets past their expiration.
type Manager struct {
	blob       Blob
	baseURL    string
	expiration time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewManager wires a manager over the given blob store. baseURL is the
// external prefix audio locators are minted under. A background sweeper
// runs every sweepInterval until Close.
func NewManager(blob Blob, baseURL string, expiration, sweepInterval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		blob:       blob,
		baseURL:    strings.TrimRight(baseURL, "/"),
		expiration: expiration,
		logger:     logger,
		done:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweep(sweepInterval)
	}
	return m
}

// Store writes the payload and its sidecar and returns the asset with its
// public URL. IDs are random UUIDs, so names are unguessable.
func (m *Manager) Store(ctx context.Context, data []byte, format string, meta Metadata) (*Asset, error) {
	id := uuid.NewString()
	name := id + "." + normalizeFormat(format)
	now := time.Now().UTC()

	if err := m.blob.Write(ctx, name, data); err != nil {
		return nil, fault.New(fault.KindStorageFailure, "storing audio payload failed", fault.WithWrapped(err))
	}

	sc := sidecar{
		Filename:         name,
		Format:           normalizeFormat(format),
		SizeBytes:        len(data),
		CreatedAt:        now,
		Voice:            meta.Voice,
		Speed:            meta.Speed,
		DurationSeconds:  meta.DurationSeconds,
		SourceTextLength: meta.SourceTextLength,
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, fault.New(fault.KindStorageFailure, "encoding audio metadata failed", fault.WithWrapped(err))
	}
	if err := m.blob.Write(ctx, id+".json", raw); err != nil {
		// Without a sidecar the sweeper would never see the payload, so
		// remove it rather than leak it.
		if derr := m.blob.Delete(ctx, name); derr != nil && !errors.Is(derr, fs.ErrNotExist) {
			m.logger.Warn("orphaned audio payload left behind", "name", name, "error", derr)
		}
		return nil, fault.New(fault.KindStorageFailure, "storing audio metadata failed", fault.WithWrapped(err))
	}

	m.logger.Debug("audio asset stored", "name", name, "bytes", len(data), "format", sc.Format)
	return &Asset{
		ID:              id,
		Name:            name,
		Format:          sc.Format,
		URL:             fmt.Sprintf("%s/audio/%s", m.baseURL, name),
		SizeBytes:       len(data),
		DurationSeconds: meta.DurationSeconds,
		CreatedAt:       now,
	}, nil
}

// Resolve returns the payload bytes and content type for a stored name.
// Unknown or malformed names return ErrNotFound; anything else that keeps
// the bytes out of reach is a storage failure.
func (m *Manager) Resolve(ctx context.Context, name string) ([]byte, string, error) {
	if !assetName.MatchString(name) {
		return nil, "", ErrNotFound
	}
	data, err := m.blob.Read(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", fault.New(fault.KindStorageFailure, "reading audio payload failed", fault.WithWrapped(err))
	}
	ext := name[strings.LastIndexByte(name, '.')+1:]
	return data, speech.ContentTypeForFormat(ext), nil
}

// SweepExpired deletes assets whose sidecar is older than the expiration
// and returns how many were removed. Per-asset failures are logged and
// skipped so one bad file never stalls the rest.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) int {
	names, err := m.blob.List(ctx)
	if err != nil {
		m.logger.Warn("audio sweep could not list assets", "error", err)
		return 0
	}

	deleted := 0
	failures := 0
	for _, name := range names {
		id, ok := strings.CutSuffix(name, ".json")
		if !ok {
			continue
		}
		raw, err := m.blob.Read(ctx, name)
		if err != nil {
			m.logger.Warn("audio sweep could not read sidecar", "name", name, "error", err)
			failures++
			continue
		}
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			m.logger.Warn("audio sweep found malformed sidecar", "name", name, "error", err)
			failures++
			continue
		}
		if now.Sub(sc.CreatedAt) <= m.expiration {
			continue
		}

		payload := sc.Filename
		if payload == "" {
			payload = id + "." + normalizeFormat(sc.Format)
		}
		if err := m.blob.Delete(ctx, payload); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// Keep the sidecar so the pair is retried next sweep.
			m.logger.Warn("audio sweep could not delete payload", "name", payload, "error", err)
			failures++
			continue
		}
		if err := m.blob.Delete(ctx, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("audio sweep could not delete sidecar", "name", name, "error", err)
			failures++
			continue
		}
		deleted++
	}

	if deleted > 0 || failures > 0 {
		m.logger.Info("audio sweep completed", "deleted", deleted, "failures", failures)
	}
	return deleted
}

// Close stops the background sweeper. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *Manager) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SweepExpired(context.Background(), time.Now())
		case <-m.done:
			return
		}
	}
}

func normalizeFormat(format string) string {
	switch format {
	case "mp3", "wav", "ogg":
		return format
	default:
		return "mp3"
	}
}
