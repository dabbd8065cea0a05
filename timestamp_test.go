package muduo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_Now(t *testing.T) {
	ts := Now()
	require.True(t, ts.Valid())
	assert.False(t, Timestamp{}.Valid())
	assert.False(t, Invalid().Valid())
}

func TestTimestamp_Ordering(t *testing.T) {
	a := Now()
	b := AddTime(a, time.Second)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(a))
}

func TestTimestamp_Sub(t *testing.T) {
	a := Now()
	b := AddTime(a, 5*time.Second)
	assert.Equal(t, 5*time.Second, b.Sub(a))
}

func TestTimestamp_Invalid(t *testing.T) {
	var zero Timestamp
	assert.False(t, zero.Valid())
	assert.True(t, Now().Valid())
}
