package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DefaultSequence(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, 1000*time.Millisecond, b.Delay())
	assert.Equal(t, 0, b.Attempts())

	var delays []time.Duration
	for i := 0; i < 40; i++ {
		delays = append(delays, b.Next())
	}

	// рост проверяется на попытках 0, 10, 20 до увеличения счетчика
	assert.Equal(t, 2000*time.Millisecond, delays[0])
	for i := 1; i < 10; i++ {
		assert.Equal(t, 2000*time.Millisecond, delays[i], "attempt %d", i)
	}
	assert.Equal(t, 3000*time.Millisecond, delays[10])

	// к двадцатой попытке задержка 3с и больше не растет
	for i := 19; i < len(delays); i++ {
		assert.Equal(t, 3000*time.Millisecond, delays[i], "attempt %d", i)
	}
	for _, d := range delays {
		assert.LessOrEqual(t, d, 3000*time.Millisecond)
	}
	assert.Equal(t, 40, b.Attempts())
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(DefaultBackoffConfig())
	for i := 0; i < 15; i++ {
		b.Next()
	}
	assert.Equal(t, 3000*time.Millisecond, b.Delay())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 1000*time.Millisecond, b.Delay())
}

func TestBackoff_CustomConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Initial: 10 * time.Millisecond,
		Step:    5 * time.Millisecond,
		Max:     20 * time.Millisecond,
		Period:  2,
	})

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{
		15 * time.Millisecond, // attempt 0
		15 * time.Millisecond,
		20 * time.Millisecond, // attempt 2
		20 * time.Millisecond,
		20 * time.Millisecond, // attempt 4, уже не меньше Max
		20 * time.Millisecond,
		20 * time.Millisecond,
	}
	assert.Equal(t, want, got)
}
