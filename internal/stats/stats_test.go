package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterNoopWhenDisabled(t *testing.T) {
	Enabled = false
	var c Counter
	c.Inc()
	c.Add(5)
	require.Equal(t, int64(0), c.Get())
}

func TestCounterCountsWhenEnabled(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	var c Counter
	c.Inc()
	c.Add(4)
	require.Equal(t, int64(5), c.Get())
}

func TestCyclesAccumulates(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	var c Cycles
	c.Add(100, 150)
	c.Add(200, 260)
	require.Equal(t, int64(110), c.Get())
}

type sampleStats struct {
	Faults Counter
	Busy   Cycles
}

func TestDumpEmptyWhenDisabled(t *testing.T) {
	Enabled = false
	var s sampleStats
	require.Equal(t, "", Dump(&s))
}

func TestDumpListsFields(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	var s sampleStats
	s.Faults.Inc()
	out := Dump(&s)
	require.Contains(t, out, "Faults: 1")
}
