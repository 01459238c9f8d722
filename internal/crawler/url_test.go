package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Docs.Example.COM/p/A1", "https://docs.example.com/p/A1"},
		{"strips default https port", "https://docs.example.com:443/p/1", "https://docs.example.com/p/1"},
		{"strips default http port", "http://docs.example.com:80/p/1", "http://docs.example.com/p/1"},
		{"keeps custom port", "https://docs.example.com:8443/p/1", "https://docs.example.com:8443/p/1"},
		{"drops fragment", "https://docs.example.com/p/1#section", "https://docs.example.com/p/1"},
		{"sorts query params", "https://docs.example.com/p/1?b=2&a=1", "https://docs.example.com/p/1?a=1&b=2"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsBadInput(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"/relative/path", "ftp://example.com/file", "mailto:a@b.c", "://bad"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	assert.True(t, SameHost("https://docs.example.com/a", "https://DOCS.example.com/b"))
	assert.False(t, SameHost("https://docs.example.com/a", "https://cdn.example.com/b"))
}
