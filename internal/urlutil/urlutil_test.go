package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		paths []string
		want  string
	}{
		{"simple", "http://localhost:3000/api/mobile", []string{"dashboard"}, "http://localhost:3000/api/mobile/dashboard"},
		{"trailing slash on base", "http://localhost:3000/api/mobile/", []string{"dashboard"}, "http://localhost:3000/api/mobile/dashboard"},
		{"leading slash on path", "http://localhost:3000/api", []string{"/transactions"}, "http://localhost:3000/api/transactions"},
		{"multiple segments", "https://api.example.com", []string{"v1", "dashboard"}, "https://api.example.com/v1/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrigin(t *testing.T) {
	t.Run("strips path and query", func(t *testing.T) {
		origin, err := Origin("https://accounts.example.com/sign-in?redirect=/")
		require.NoError(t, err)
		assert.Equal(t, "https://accounts.example.com", origin)
	})

	t.Run("keeps explicit port", func(t *testing.T) {
		origin, err := Origin("http://localhost:3000/sign-in")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:3000", origin)
	})

	t.Run("lowercases host", func(t *testing.T) {
		origin, err := Origin("https://Accounts.Example.COM/x")
		require.NoError(t, err)
		assert.Equal(t, "https://accounts.example.com", origin)
	})

	t.Run("rejects relative url", func(t *testing.T) {
		_, err := Origin("/sign-in")
		assert.Error(t, err)
	})
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, SameOrigin("https://a.example/x", "https://a.example/y?z=1"))
	assert.False(t, SameOrigin("https://a.example", "http://a.example"))
	assert.False(t, SameOrigin("https://a.example", "https://b.example"))
	assert.False(t, SameOrigin("not a url", "https://a.example"))
}
