package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLoggerLevelRoundTrip(t *testing.T) {
	l := New(LevelWarn)
	assert.Equal(t, LevelWarn, l.GetLevel())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())

	child := l.With(Component("test"), String("k", "v"))
	assert.Equal(t, LevelDebug, child.GetLevel(), "children share the atomic level")
}

func TestNopLoggerDiscards(t *testing.T) {
	l := NewNop()
	l.Info("dropped", Error(errors.New("boom")), Uint64("n", 1))
	l.Named("x").Warn("dropped too")
	assert.NotNil(t, Provide())
}
