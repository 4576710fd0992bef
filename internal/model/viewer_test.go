package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func timeNowFixed() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestViewerRef(t *testing.T) {
	t.Run("device ref exposes only device id", func(t *testing.T) {
		ref := DeviceViewer("dev-1")

		id, ok := ref.DeviceID()
		assert.True(t, ok)
		assert.Equal(t, "dev-1", id)

		_, ok = ref.WebSessionID()
		assert.False(t, ok)

		deviceID, webID := ref.Columns()
		require.NotNil(t, deviceID)
		assert.Equal(t, "dev-1", *deviceID)
		assert.Nil(t, webID)
		assert.Equal(t, "device:dev-1", ref.Key())
	})

	t.Run("web session ref exposes only session id", func(t *testing.T) {
		ref := WebSessionViewer("sess-1")

		id, ok := ref.WebSessionID()
		assert.True(t, ok)
		assert.Equal(t, "sess-1", id)

		_, ok = ref.DeviceID()
		assert.False(t, ok)

		deviceID, webID := ref.Columns()
		assert.Nil(t, deviceID)
		require.NotNil(t, webID)
		assert.Equal(t, "sess-1", *webID)
		assert.Equal(t, "web:sess-1", ref.Key())
	})

	t.Run("zero ref", func(t *testing.T) {
		var ref ViewerRef
		assert.True(t, ref.IsZero())
		assert.False(t, DeviceViewer("d").IsZero())
	})
}

func TestViewerRefFromRow(t *testing.T) {
	t.Run("device row", func(t *testing.T) {
		v := Viewer{ViewerDeviceID: strPtr("dev-1")}
		ref, err := v.Ref()
		require.NoError(t, err)
		id, ok := ref.DeviceID()
		assert.True(t, ok)
		assert.Equal(t, "dev-1", id)
	})

	t.Run("web session row", func(t *testing.T) {
		v := Viewer{ViewerWebSessionID: strPtr("sess-1")}
		ref, err := v.Ref()
		require.NoError(t, err)
		id, ok := ref.WebSessionID()
		assert.True(t, ok)
		assert.Equal(t, "sess-1", id)
	})

	t.Run("both set is rejected", func(t *testing.T) {
		v := Viewer{ViewerDeviceID: strPtr("dev-1"), ViewerWebSessionID: strPtr("sess-1")}
		_, err := v.Ref()
		assert.Error(t, err)
	})

	t.Run("neither set is rejected", func(t *testing.T) {
		v := Viewer{}
		_, err := v.Ref()
		assert.Error(t, err)
	})
}

func TestCanonicalPair(t *testing.T) {
	t.Run("already ordered", func(t *testing.T) {
		a, b, swapped := CanonicalPair("aaa", "bbb")
		assert.Equal(t, "aaa", a)
		assert.Equal(t, "bbb", b)
		assert.False(t, swapped)
	})

	t.Run("reversed input is swapped", func(t *testing.T) {
		a, b, swapped := CanonicalPair("bbb", "aaa")
		assert.Equal(t, "aaa", a)
		assert.Equal(t, "bbb", b)
		assert.True(t, swapped)
	})

	t.Run("both orders produce the same pair context", func(t *testing.T) {
		a1, b1, _ := CanonicalPair("x", "y")
		a2, b2, _ := CanonicalPair("y", "x")
		assert.Equal(t, PairContext(a1, b1), PairContext(a2, b2))
	})
}

func TestWebSessionIsExpired(t *testing.T) {
	now := timeNowFixed()

	t.Run("fresh active session is not expired", func(t *testing.T) {
		exp := now.Add(time.Hour)
		s := WebSession{Status: WebSessionActive, ExpiresAt: &exp, LastActivityAt: now, MaxIdleSeconds: 1800}
		assert.False(t, s.IsExpired(now))
	})

	t.Run("absolute TTL elapsed", func(t *testing.T) {
		exp := now.Add(-time.Second)
		s := WebSession{Status: WebSessionActive, ExpiresAt: &exp, LastActivityAt: now, MaxIdleSeconds: 1800}
		assert.True(t, s.IsExpired(now))
	})

	t.Run("idle timeout elapsed", func(t *testing.T) {
		exp := now.Add(time.Hour)
		s := WebSession{
			Status:         WebSessionActive,
			ExpiresAt:      &exp,
			LastActivityAt: now.Add(-31 * time.Minute),
			MaxIdleSeconds: 1800,
		}
		assert.True(t, s.IsExpired(now))
	})

	t.Run("pending session ignores idle timeout", func(t *testing.T) {
		s := WebSession{Status: WebSessionPending, LastActivityAt: now.Add(-2 * time.Hour), MaxIdleSeconds: 1800}
		assert.False(t, s.IsExpired(now))
	})
}
