package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{" 2h30m ", 2*time.Hour + 30*time.Minute},
		{"00:50", 50 * time.Minute},
		{"02:30", 2*time.Hour + 30*time.Minute},
		{"@every 10s", 10 * time.Second},
		{"@every 2000ms", 2 * time.Second},
		{"every:1m", time.Minute},
		{"interval: 01:00", time.Hour},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseIntervalRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "every:", "0s", "-5s", "00:00", "01:75", "*/5 * * * *", "@hourly", "soon"} {
		_, err := ParseInterval(in)
		require.Error(t, err, in)
	}

	_, err := ParseInterval("0s")
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestParseIntervalEverySubSecond(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"@every 500ms", "@every 1500ms", "every: @every 1.5s"} {
		_, err := ParseInterval(in)
		require.ErrorContains(t, err, "whole seconds", in)
	}

	_, err := ParseInterval("@every 500ms")
	require.ErrorContains(t, err, `"500ms"`)

	d, err := ParseInterval("500ms")
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, d)
}
