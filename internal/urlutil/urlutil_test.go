package urlutil_test

import (
	"testing"

	"github.com/fcchbjm/webguard/internal/urlutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{{
		name: "www_and_trailing_slash",
		in:   "www.example.com/page/",
		want: "https://example.com/page",
	}, {
		name: "already_canonical",
		in:   "https://example.com/page",
		want: "https://example.com/page",
	}, {
		name: "upper_case_host",
		in:   "https://WWW.Example.COM/Page",
		want: "https://example.com/Page",
	}, {
		name: "trailing_dot",
		in:   "https://example.com./",
		want: "https://example.com",
	}, {
		name: "default_port",
		in:   "https://example.com:443/x",
		want: "https://example.com/x",
	}, {
		name: "custom_port",
		in:   "http://example.com:8080/x",
		want: "http://example.com:8080/x",
	}, {
		name: "fragment_dropped",
		in:   "https://example.com/x#frag",
		want: "https://example.com/x",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := urlutil.NormalizeURL(tc.in)
			require.NoError(t, err)

			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("no_host", func(t *testing.T) {
		t.Parallel()

		_, err := urlutil.NormalizeURL("https:///path")
		assert.ErrorIs(t, err, urlutil.ErrNoHost)
	})
}

func TestIsWellFormedHost(t *testing.T) {
	t.Parallel()

	assert.True(t, urlutil.IsWellFormedHost("example.com"))
	assert.True(t, urlutil.IsWellFormedHost("sub.example.com."))
	assert.True(t, urlutil.IsWellFormedHost("[2606:4700::1111]"))
	assert.True(t, urlutil.IsWellFormedHost("10.0.0.5"))

	assert.False(t, urlutil.IsWellFormedHost(""))
	assert.False(t, urlutil.IsWellFormedHost("localhost"))
	assert.False(t, urlutil.IsWellFormedHost("example.com.."))
}

func TestIsInternalHost(t *testing.T) {
	t.Parallel()

	internal := []string{
		"127.0.0.1",
		"10.0.0.5",
		"172.16.1.2",
		"192.168.1.1",
		"169.254.10.10",
		"::1",
		"fe80::1",
		"fd00::1",
		"[::ffff:192.168.0.1]",
	}
	for _, host := range internal {
		assert.True(t, urlutil.IsInternalHost(host), "host %q", host)
	}

	external := []string{
		"8.8.8.8",
		"2606:4700::1111",
		"example.com",
		"1.1.1.1",
	}
	for _, host := range external {
		assert.False(t, urlutil.IsInternalHost(host), "host %q", host)
	}
}
