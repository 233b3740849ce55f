package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekStructured(t *testing.T) {
	c, clock := newTestCodec(t, true)

	raw, err := c.Issue("user-7", KindRefresh, time.Hour, nil)
	require.NoError(t, err)

	u, ok := c.peekStructured(raw)
	require.True(t, ok)
	assert.Equal(t, "user-7", u.Subject)
	assert.Equal(t, KindRefresh, u.Kind)
	assert.Equal(t, TierStructured, u.Tier)
	assert.WithinDuration(t, clock.Now().Add(time.Hour), u.ExpiresAt, time.Second)
	assert.True(t, u.Structural())
}

func TestPeekRawSegments(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"jti":"legacy-1","sub":"user-3","type":"access","exp":1700000000}`))
	raw := "not-a-header." + payload + ".sig"

	c, _ := newTestCodec(t, false)
	_, ok := c.peekStructured(raw)
	require.False(t, ok, "structured tier should reject a broken header")

	u, ok := peekRawSegments(raw)
	require.True(t, ok)
	assert.Equal(t, "legacy-1", u.JTI)
	assert.Equal(t, "user-3", u.Subject)
	assert.Equal(t, TierRawSegments, u.Tier)
	assert.Equal(t, int64(1700000000), u.ExpiresAt.Unix())

	padded := "h." + base64.URLEncoding.EncodeToString([]byte(`{"jti":"padded"}`)) + ".s"
	u, ok = peekRawSegments(padded)
	require.True(t, ok)
	assert.Equal(t, "padded", u.JTI)

	_, ok = peekRawSegments("a.b")
	assert.False(t, ok)
	_, ok = peekRawSegments("a.!!!.c")
	assert.False(t, ok)
}

func TestPeekContentHash(t *testing.T) {
	c, _ := newTestCodec(t, true)

	for _, raw := range []string{"", "garbage", "a.b.c.d.e", strings.Repeat("x", 4096)} {
		u := c.Peek(raw)
		assert.Equal(t, TierContentHash, u.Tier, "input %q", raw)
		assert.True(t, strings.HasPrefix(u.JTI, contentHashPrefix))
		assert.False(t, u.Structural())
		assert.Equal(t, u.JTI, c.PeekIdentifier(raw), "hash must be stable")
	}

	assert.NotEqual(t, c.PeekIdentifier("a"), c.PeekIdentifier("b"))
}

func TestPeekEncryptedWithForeignKeyFallsBackToHash(t *testing.T) {
	other, err := NewCodec(Config{MasterKey: []byte("a-completely-different-master-key-000000"), EncryptionEnabled: true})
	require.NoError(t, err)
	raw, err := other.Issue("user-1", KindAccess, time.Hour, nil)
	require.NoError(t, err)

	c, _ := newTestCodec(t, true)
	u := c.Peek(raw)
	assert.Equal(t, TierContentHash, u.Tier)
	assert.Equal(t, other.PeekIdentifier(raw), other.Peek(raw).JTI)
	assert.Equal(t, TierStructured, other.Peek(raw).Tier)
}
