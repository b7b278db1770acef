package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain key unchanged", in: "meta/abc", want: "meta/abc"},
		{name: "trailing separator rewritten", in: "dir/abc/", want: "dir/abc" + DirSuffixMarker},
		{name: "interior separators untouched", in: "a/b/c", want: "a/b/c"},
		{name: "bare separator", in: "/", want: DirSuffixMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeKey(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, DesanitizeKey(got), "sanitization must be symmetric")
		})
	}
}
