package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlotCacheNextSerialMonotonic(t *testing.T) {
	c := NewSlotCache(10, time.Minute)
	a := c.NextSerial()
	b := c.NextSerial()
	require.Equal(t, a+1, b)
}

func TestSlotCachePutDrainRoundTrip(t *testing.T) {
	c := NewSlotCache(10, time.Minute)
	serial := c.NextSerial()
	c.Put(serial, "alice:ops", "show version")

	c.Append(serial, ResultEntry{FQDN: "host1", Status: 0, Output: "ok"})
	c.Append(serial, ResultEntry{FQDN: "host2", Optout: true})

	results, ok := c.Drain(serial)
	require.True(t, ok)
	require.Len(t, results, 2)
	require.Equal(t, "host1", results[0].FQDN)
	require.True(t, results[1].Optout)

	// Draining again yields an empty (but still known) slot.
	results, ok = c.Drain(serial)
	require.True(t, ok)
	require.Empty(t, results)
}

func TestSlotCacheUnknownSerialMiss(t *testing.T) {
	c := NewSlotCache(10, time.Minute)
	_, ok := c.Drain(999)
	require.False(t, ok)
}

func TestSlotCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewSlotCache(2, time.Minute)
	s1 := c.NextSerial()
	c.Put(s1, "a", "cmd1")
	s2 := c.NextSerial()
	c.Put(s2, "b", "cmd2")
	s3 := c.NextSerial()
	c.Put(s3, "c", "cmd3")

	_, ok := c.Drain(s1)
	require.False(t, ok, "oldest slot should have been evicted")
	_, ok = c.Drain(s3)
	require.True(t, ok)
}

func TestSlotCacheExpiresAfterTTL(t *testing.T) {
	c := NewSlotCache(10, time.Millisecond)
	serial := c.NextSerial()
	c.Put(serial, "a", "cmd")
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Drain(serial)
	require.False(t, ok)
}
