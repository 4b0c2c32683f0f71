package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func substrates(t *testing.T) map[string]Substrate {
	t.Helper()
	_, client := newTestRedis(t)
	return map[string]Substrate{
		"memory": NewMemory(),
		"file":   NewFile(filepath.Join(t.TempDir(), "tokens.yaml")),
		"redis":  NewRedis(client, ""),
	}
}

func TestStore_RoundTripAndClear(t *testing.T) {
	ctx := context.Background()

	for name, sub := range substrates(t) {
		t.Run(name, func(t *testing.T) {
			s := New(sub)

			s.Save(ctx, "access-1", "refresh-1")
			assert.Equal(t, authsession.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, s.Load(ctx))

			s.Save(ctx, "access-2", "refresh-2")
			assert.Equal(t, authsession.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, s.Load(ctx))

			s.Clear(ctx)
			assert.Equal(t, authsession.TokenPair{}, s.Load(ctx))
		})
	}
}

func TestStore_SaveEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	s.Save(ctx, "a", "r")
	s.Save(ctx, "", "")

	assert.Equal(t, authsession.TokenPair{AccessToken: "a", RefreshToken: "r"}, s.Load(ctx))
}

func TestStore_EncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	key := []byte("0123456789abcdef0123456789abcdef")

	s := New(mem, WithEncryptionKey(key))
	require.True(t, s.Encrypted())

	s.Save(ctx, "access-secret", "refresh-secret")

	raw, ok, err := mem.Get(ctx, AccessKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, "access-secret")

	assert.Equal(t, authsession.TokenPair{AccessToken: "access-secret", RefreshToken: "refresh-secret"}, s.Load(ctx))

	// A store holding a different key cannot open the values and sees no session.
	other := New(mem, WithEncryptionKey([]byte("another key of some length......")))
	assert.Equal(t, authsession.TokenPair{}, other.Load(ctx))
}

func TestStore_FallsBackToPlain(t *testing.T) {
	s := New(NewMemory(), WithEncryptionKey(nil))
	assert.False(t, s.Encrypted())

	_, err := NewEncryptedSealer(nil)
	assert.Error(t, err)
}

// flakySubstrate is a non-batch substrate failing writes to one key.
type flakySubstrate struct {
	*Memory
	failKey string
	getErr  error
}

func (f *flakySubstrate) Get(ctx context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakySubstrate) Set(ctx context.Context, key, value string) error {
	if key == f.failKey {
		return errors.New("quota exceeded")
	}
	return f.Memory.Set(ctx, key, value)
}

// SetMany is shadowed so the store takes the sequential path.
type sequentialOnly struct{ Substrate }

func TestStore_NoPartialPair(t *testing.T) {
	ctx := context.Background()
	flaky := &flakySubstrate{Memory: NewMemory()}
	s := New(sequentialOnly{flaky})

	s.Save(ctx, "old-access", "old-refresh")
	require.Equal(t, authsession.TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"}, s.Load(ctx))

	flaky.failKey = RefreshKey
	s.Save(ctx, "new-access", "new-refresh")

	assert.Equal(t, authsession.TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"}, s.Load(ctx))
}

func TestStore_NoPartialPair_FromEmpty(t *testing.T) {
	ctx := context.Background()
	flaky := &flakySubstrate{Memory: NewMemory(), failKey: RefreshKey}
	s := New(sequentialOnly{flaky})

	s.Save(ctx, "access", "refresh")

	assert.Equal(t, authsession.TokenPair{}, s.Load(ctx))
	assert.Equal(t, 0, flaky.Len())
}

func TestStore_SwallowsLoadErrors(t *testing.T) {
	ctx := context.Background()
	flaky := &flakySubstrate{Memory: NewMemory(), getErr: errors.New("access denied")}
	s := New(flaky)

	assert.Equal(t, authsession.TokenPair{}, s.Load(ctx))
}

func TestFile_Permissions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tokens.yaml")
	s := New(NewFile(path))

	s.Save(ctx, "a", "r")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "accessToken: a")
}

func TestRedis_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := New(NewRedis(client, "app:"))

	s.Save(ctx, "a", "r")

	assert.True(t, mr.Exists("app:accessToken"))
	assert.True(t, mr.Exists("app:refreshToken"))

	s.Save(ctx, "a2", "")
	assert.False(t, mr.Exists("app:refreshToken"))

	// Injected clients stay open.
	require.NoError(t, s.Close())
	require.NoError(t, client.Ping(ctx).Err())
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "token.key")

	key, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, Config{Type: TypeMemory}, nil, nil)
		require.NoError(t, err)
		assert.IsType(t, &Memory{}, s.sub)
		assert.False(t, s.Encrypted())
	})

	t.Run("file encrypted", func(t *testing.T) {
		s, err := Open(ctx, Config{
			Type:    TypeFile,
			Path:    filepath.Join(dir, "tokens.yaml"),
			KeyPath: filepath.Join(dir, "token.key"),
		}, nil, nil)
		require.NoError(t, err)
		assert.IsType(t, &File{}, s.sub)
		assert.True(t, s.Encrypted())
	})

	t.Run("file plaintext", func(t *testing.T) {
		s, err := Open(ctx, Config{
			Type:      TypeFile,
			Path:      filepath.Join(dir, "plain.yaml"),
			Plaintext: true,
		}, nil, nil)
		require.NoError(t, err)
		assert.False(t, s.Encrypted())
	})

	t.Run("redis", func(t *testing.T) {
		mr, _ := newTestRedis(t)
		s, err := Open(ctx, Config{Type: TypeRedis, Plaintext: true, Redis: RedisConfig{Addr: mr.Addr()}}, nil, nil)
		require.NoError(t, err)
		s.Save(ctx, "a", "r")
		assert.True(t, mr.Exists(DefaultRedisPrefix+AccessKey))
		require.NoError(t, s.Close())
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "cookie"}, nil, nil)
		assert.Error(t, err)
	})
}
