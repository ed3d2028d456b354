package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"1d", Day},
		{"30d", 30 * Day},
		{"30 days", 30 * Day},
		{"1 day", Day},
		{"2w", 2 * Week},
		{"2 weeks", 2 * Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"720h", 720 * time.Hour},
		{"-2d", -2 * Day},
		{"500ms", 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "12parsecs"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Minute, "1h30m"},
		{Day, "1d"},
		{8 * Day, "1w1d"},
		{30 * Day, "4w2d"},
		{Day + time.Hour + time.Minute + time.Second, "1d1h1m1s"},
		{-2 * Day, "-2d"},
		{500 * time.Millisecond, "500ms"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		45 * time.Second,
		10 * time.Minute,
		36 * time.Hour,
		3 * Week,
		Week + 2*Day + 6*time.Hour,
	} {
		got, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestMustParse(t *testing.T) {
	assert.Equal(t, 2*Week, MustParse("2w"))
	assert.Panics(t, func() { MustParse("bogus") })
}
