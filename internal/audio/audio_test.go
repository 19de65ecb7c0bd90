// ABOUTME: Tests for the audio manager: store/resolve roundtrips and expiry sweeps.
// ABOUTME: Uses an in-memory blob to inject storage failures the filesystem can't.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlob struct {
	mu         sync.Mutex
	files      map[string][]byte
	failDelete map[string]bool
}

func newMemBlob() *memBlob {
	return &memBlob{
		files:      make(map[string][]byte),
		failDelete: make(map[string]bool),
	}
}

func (b *memBlob) Write(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = append([]byte(nil), data...)
	return nil
}

func (b *memBlob) Read(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlob) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDelete[name] {
		return fmt.Errorf("remove %s: permission denied", name)
	}
	if _, ok := b.files[name]; !ok {
		return fmt.Errorf("remove %s: %w", name, fs.ErrNotExist)
	}
	delete(b.files, name)
	return nil
}

func (b *memBlob) List(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	return names, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, blob Blob) *Manager {
	t.Helper()
	m := NewManager(blob, "http://gw.local", 24*time.Hour, 0, testLogger())
	t.Cleanup(m.Close)
	return m
}

func TestStoreAndResolve(t *testing.T) {
	blob, err := NewFSBlob(t.TempDir())
	require.NoError(t, err)
	m := newTestManager(t, blob)

	payload := []byte("fake mp3 bytes")
	asset, err := m.Store(context.Background(), payload, "mp3", Metadata{Voice: "nova", Speed: 1.5, DurationSeconds: 2.4})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(asset.Name, ".mp3"))
	assert.Equal(t, asset.ID+".mp3", asset.Name)
	assert.Equal(t, "http://gw.local/audio/"+asset.Name, asset.URL)
	assert.Equal(t, len(payload), asset.SizeBytes)
	assert.Equal(t, 2.4, asset.DurationSeconds)

	data, contentType, err := m.Resolve(context.Background(), asset.Name)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestStore_TrimsBaseURL(t *testing.T) {
	blob := newMemBlob()
	m := NewManager(blob, "http://gw.local/", 24*time.Hour, 0, testLogger())
	defer m.Close()

	asset, err := m.Store(context.Background(), []byte("x"), "ogg", Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "http://gw.local/audio/"+asset.Name, asset.URL)
}

func TestStore_UniqueNames(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, blob)

	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		asset, err := m.Store(context.Background(), []byte("a"), "mp3", Metadata{})
		require.NoError(t, err)
		require.False(t, seen[asset.Name], "name %s minted twice", asset.Name)
		seen[asset.Name] = true
	}
}

func TestStore_SidecarWriteFailureCleansPayload(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, &sidecarFailBlob{memBlob: blob})

	_, err := m.Store(context.Background(), []byte("x"), "mp3", Metadata{})
	require.Error(t, err)

	names, err := blob.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names, "payload should be cleaned up when the sidecar write fails")
}

// sidecarFailBlob fails every sidecar write while letting payloads through.
type sidecarFailBlob struct {
	*memBlob
}

func (b *sidecarFailBlob) Write(ctx context.Context, name string, data []byte) error {
	if strings.HasSuffix(name, ".json") {
		return fmt.Errorf("write %s: disk full", name)
	}
	return b.memBlob.Write(ctx, name, data)
}

func TestResolve_Unknown(t *testing.T) {
	m := newTestManager(t, newMemBlob())

	_, _, err := m.Resolve(context.Background(), "0b8f9c4e-1111-2222-3333-444455556666.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_RejectsMalformedNames(t *testing.T) {
	blob := newMemBlob()
	require.NoError(t, blob.Write(context.Background(), "secret.txt", []byte("keys")))
	m := newTestManager(t, blob)

	for _, name := range []string{
		"../secret.txt",
		"sub/dir.mp3",
		"secret.txt",
		"UPPER.mp3",
		".mp3",
		"",
	} {
		_, _, err := m.Resolve(context.Background(), name)
		assert.ErrorIs(t, err, ErrNotFound, "name %q", name)
	}
}

func TestSweepExpired(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, blob)
	ctx := context.Background()

	stale, err := m.Store(ctx, []byte("old"), "mp3", Metadata{})
	require.NoError(t, err)
	fresh, err := m.Store(ctx, []byte("new"), "mp3", Metadata{})
	require.NoError(t, err)
	backdate(t, blob, stale.ID, 25*time.Hour)

	deleted := m.SweepExpired(ctx, time.Now())
	assert.Equal(t, 1, deleted)

	_, _, err = m.Resolve(ctx, stale.Name)
	assert.ErrorIs(t, err, ErrNotFound)
	data, _, err := m.Resolve(ctx, fresh.Name)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestSweepExpired_Boundary(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, blob)
	ctx := context.Background()

	atLimit, err := m.Store(ctx, []byte("a"), "mp3", Metadata{})
	require.NoError(t, err)
	pastLimit, err := m.Store(ctx, []byte("b"), "mp3", Metadata{})
	require.NoError(t, err)

	now := time.Now()
	backdateTo(t, blob, atLimit.ID, now.Add(-24*time.Hour))
	backdateTo(t, blob, pastLimit.ID, now.Add(-24*time.Hour-time.Second))

	deleted := m.SweepExpired(ctx, now)
	assert.Equal(t, 1, deleted)

	// Exactly at the expiration is still alive; one second past is not.
	_, _, err = m.Resolve(ctx, atLimit.Name)
	assert.NoError(t, err)
	_, _, err = m.Resolve(ctx, pastLimit.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpired_ContinuesPastFailures(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, blob)
	ctx := context.Background()

	stuck, err := m.Store(ctx, []byte("stuck"), "mp3", Metadata{})
	require.NoError(t, err)
	gone, err := m.Store(ctx, []byte("gone"), "mp3", Metadata{})
	require.NoError(t, err)
	backdate(t, blob, stuck.ID, 25*time.Hour)
	backdate(t, blob, gone.ID, 25*time.Hour)

	blob.mu.Lock()
	blob.failDelete[stuck.Name] = true
	blob.mu.Unlock()

	deleted := m.SweepExpired(ctx, time.Now())
	assert.Equal(t, 1, deleted)

	// The failed pair keeps its sidecar so a later sweep retries it.
	_, err = blob.Read(ctx, stuck.ID+".json")
	assert.NoError(t, err)

	blob.mu.Lock()
	delete(blob.failDelete, stuck.Name)
	blob.mu.Unlock()
	assert.Equal(t, 1, m.SweepExpired(ctx, time.Now()))
}

func TestSweepExpired_SkipsMalformedSidecar(t *testing.T) {
	blob := newMemBlob()
	m := newTestManager(t, blob)
	ctx := context.Background()

	require.NoError(t, blob.Write(ctx, "broken.json", []byte("not json")))
	ok, err := m.Store(ctx, []byte("ok"), "mp3", Metadata{})
	require.NoError(t, err)
	backdate(t, blob, ok.ID, 25*time.Hour)

	assert.Equal(t, 1, m.SweepExpired(ctx, time.Now()))

	// The malformed sidecar stays rather than risking a blind delete.
	_, err = blob.Read(ctx, "broken.json")
	assert.NoError(t, err)
}

func TestSweeperRuns(t *testing.T) {
	blob := newMemBlob()
	m := NewManager(blob, "http://gw.local", time.Millisecond, 10*time.Millisecond, testLogger())
	defer m.Close()
	ctx := context.Background()

	asset, err := m.Store(ctx, []byte("x"), "mp3", Metadata{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _, err := m.Resolve(ctx, asset.Name)
		return err != nil
	}, time.Second, 10*time.Millisecond, "background sweeper should reap the expired asset")
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(newMemBlob(), "http://gw.local", time.Hour, time.Hour, testLogger())
	m.Close()
	m.Close()
}

// backdate rewrites an asset's sidecar so it looks age old.
func backdate(t *testing.T, blob Blob, id string, age time.Duration) {
	t.Helper()
	backdateTo(t, blob, id, time.Now().Add(-age))
}

func backdateTo(t *testing.T, blob Blob, id string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	raw, err := blob.Read(ctx, id+".json")
	require.NoError(t, err)
	var sc map[string]any
	require.NoError(t, json.Unmarshal(raw, &sc))
	sc["created_at"] = createdAt.UTC().Format(time.RFC3339Nano)
	raw, err = json.Marshal(sc)
	require.NoError(t, err)
	require.NoError(t, blob.Write(ctx, id+".json", raw))
}
