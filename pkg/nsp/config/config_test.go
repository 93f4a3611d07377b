package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[engine]
log_martians = false
segbufsize = 1024
ack_delay = 5s
destroy_delay = 1m

[listener "mirror"]
name = mirror
number = 0
accept_queue = 4

[listener "task"]
name = task
number = 17
`

func TestLoadBytesParsesEngineSection(t *testing.T) {
	f, err := LoadBytes([]byte(sample))
	require.NoError(t, err)
	assert.False(t, f.Engine.LogMartians)
	assert.Equal(t, 1024, f.Engine.Segbufsize)
	assert.Equal(t, 5*time.Second, f.Engine.AckDelay)
	assert.Equal(t, time.Minute, f.Engine.DestroyDelay)
}

func TestLoadBytesParsesListenerSections(t *testing.T) {
	f, err := LoadBytes([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Listeners(), 2)

	byName := map[string]ListenerSpec{}
	for _, l := range f.Listeners() {
		byName[l.Name] = l
	}
	assert.Equal(t, 4, byName["mirror"].AcceptCap)
	assert.Equal(t, uint8(17), byName["task"].Number)
	assert.Equal(t, 8, byName["task"].AcceptCap) // default when unset
}

func TestLoadBytesDefaultsWhenNoEngineSection(t *testing.T) {
	f, err := LoadBytes([]byte(`[listener "x"]
name = x
`))
	require.NoError(t, err)
	assert.True(t, f.Engine.LogMartians)
	assert.Equal(t, 576, f.Engine.Segbufsize)
}
