package discordato

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommaList(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "whitespace only", input: "  	", expected: nil},
		{name: "single", input: "123", expected: []string{"123"}},
		{
			name:     "multiple with spaces",
			input:    " 123 , 456,789 ",
			expected: []string{"123", "456", "789"},
		},
		{
			name:     "empty elements dropped",
			input:    "123,,456,",
			expected: []string{"123", "456"},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, splitCommaList(tc.input))
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()
	hashed, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hashed, "$argon2id$v=19$m="))

	ok, err := verifyPassword(hashed, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hashed, "hunter3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("not-a-hash", "hunter2")
	assert.Error(t, err)
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	t.Parallel()
	first, err := HashPassword("same password")
	require.NoError(t, err)
	second, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()
	key := derive64ByteKey("secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("secret"))
	assert.NotEqual(t, key, derive64ByteKey("other"))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	s, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	other, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestTruncateAndExcerpt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "abc...", excerpt("abcdef", 3))
	// rune-aware, not byte-aware
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestContainsString(t *testing.T) {
	t.Parallel()
	values := []string{"a", "b", "c"}
	assert.True(t, containsString(values, "b"))
	assert.False(t, containsString(values, "d"))
	assert.False(t, containsString(nil, "a"))
}

func TestAnyRoleMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		allowed  []string
		roles    []string
		expected bool
	}{
		{name: "match", allowed: []string{"1", "2"}, roles: []string{"3", "2"}, expected: true},
		{name: "no match", allowed: []string{"1", "2"}, roles: []string{"3"}, expected: false},
		{name: "empty allowed", allowed: nil, roles: []string{"1"}, expected: false},
		{name: "empty roles", allowed: []string{"1"}, roles: nil, expected: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, anyRoleMatch(tc.allowed, tc.roles))
		})
	}
}

func TestChunkItems(t *testing.T) {
	t.Parallel()
	chunks := chunkItems(2, "a", "b", "c", "d", "e")
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])

	assert.Nil(t, chunkItems[string](3))
}

func TestTLSConfigMissingFiles(t *testing.T) {
	t.Parallel()
	_, err := tlsConfig("/does/not/exist.pem", "/does/not/exist.key", 0)
	assert.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	logger := testLogger()
	ctx = WithLogger(ctx, logger)
	found, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, found)

	// nil logger falls back to the default
	ctx = WithLogger(context.Background(), nil)
	found, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, found)
}

func TestMessageJumpURL(t *testing.T) {
	t.Parallel()
	assert.Equal(
		t,
		"https://discord.com/channels/g/c/m",
		messageJumpURL("g", "c", "m"),
	)
}
