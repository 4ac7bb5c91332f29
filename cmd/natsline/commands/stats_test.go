package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsline/natsline-go/pkg/log"
)

func TestCollectStats(t *testing.T) {
	path := writeLog(t, sampleEvents())

	stats, err := CollectStats(path)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByCategory[log.CategoryMessage])
	assert.Equal(t, 1, stats.EventsByCategory[log.CategoryControl])
	assert.Equal(t, 1, stats.EventsByOp[log.MessageOpPub])
	assert.Equal(t, 1, stats.EventsByOp[log.MessageOpMsg])
	assert.Equal(t, 5, stats.BytesOut)
	assert.Equal(t, 2, stats.BytesIn)
	assert.Equal(t, 1, stats.Errors)
	assert.True(t, stats.TimeRange.Start.Equal(baseTime))
	assert.True(t, stats.TimeRange.End.Equal(baseTime.Add(2*time.Second)))

	require.Len(t, stats.Connections, 2)
	first := stats.Connections["abc12345-6789-0123-4567-890abcdef012"]
	require.NotNil(t, first)
	assert.Equal(t, 3, first.Events)
	assert.Equal(t, "nats://127.0.0.1:4222", first.Endpoint)
}

func TestRunStats(t *testing.T) {
	path := writeLog(t, sampleEvents())

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, &buf))
	out := buf.String()

	assert.Contains(t, out, "Total Events: 5")
	assert.Contains(t, out, "PUB:")
	assert.Contains(t, out, "Connections: 2")
	assert.Contains(t, out, "[abc12345] 3 events")
	assert.Contains(t, out, "nats://127.0.0.1:4222")
	assert.Contains(t, out, "Errors: 1")
}

func TestRunStatsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunStats(writeLog(t, nil), &buf))
	assert.Contains(t, buf.String(), "Total Events: 0")
}
