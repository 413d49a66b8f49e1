package crosscheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	responses := []*Response{
		{Offset: 3 * time.Millisecond, RTT: 30 * time.Millisecond, Stratum: 2},
		{Offset: 1 * time.Millisecond, RTT: 10 * time.Millisecond, Stratum: 2},
		{Offset: 2 * time.Millisecond, RTT: 20 * time.Millisecond, Stratum: 2},
		{Offset: time.Second, Stratum: 2, KissCode: "RATE"},
		nil,
	}

	s, ok := Summarize(responses)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, s.Offset)
	assert.Equal(t, 10*time.Millisecond, s.RTT)
	assert.Equal(t, uint8(2), s.Stratum)
	assert.Equal(t, 3, s.Samples)
}

func TestSummarize_EvenCount(t *testing.T) {
	s, ok := Summarize([]*Response{
		{Offset: 4 * time.Millisecond, Stratum: 1},
		{Offset: 2 * time.Millisecond, Stratum: 1},
	})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, s.Offset)
}

func TestSummarize_NothingUsable(t *testing.T) {
	_, ok := Summarize(nil)
	assert.False(t, ok)

	_, ok = Summarize([]*Response{{Stratum: 0}})
	assert.False(t, ok)
}
