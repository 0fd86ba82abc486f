package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSDK(t *testing.T) {
	d := DefaultSDK()
	assert.Equal(t, 50, d.Transport.BatchSize)
	assert.Equal(t, time.Second, d.Transport.BatchTimeout)
	assert.Equal(t, 3, d.Transport.MaxRetries)
	assert.Equal(t, 5000, d.MaxEventsPerSession)
	assert.Equal(t, 30*time.Minute, d.SessionTimeout)
	assert.Equal(t, 64000, d.Transport.BeaconMaxBytes)
}

func TestMergeIsShallowAndKeepsUnsetFields(t *testing.T) {
	base := DefaultSDK()
	merged := base.Merge(SDKOverrides{
		ProjectKey: Ptr("pk_123"),
		APIURL:     Ptr("https://collector.example.com/"),
		Transport:  &TransportOverrides{BatchSize: Ptr(2)},
	})

	assert.Equal(t, "pk_123", merged.ProjectKey)
	assert.Equal(t, "https://collector.example.com", merged.APIURL)
	assert.Equal(t, 2, merged.Transport.BatchSize)
	assert.Equal(t, base.Transport.BatchTimeout, merged.Transport.BatchTimeout)
	assert.Equal(t, base.MaxEventsPerSession, merged.MaxEventsPerSession)
	assert.Empty(t, base.ProjectKey, "merge must not mutate the receiver")
}

func TestMergeFallsBackOnNonPositive(t *testing.T) {
	merged := DefaultSDK().Merge(SDKOverrides{
		MaxEventsPerSession: Ptr(0),
		Transport:           &TransportOverrides{BatchSize: Ptr(-1), MaxRetries: Ptr(0)},
	})
	assert.Equal(t, 5000, merged.MaxEventsPerSession)
	assert.Equal(t, 50, merged.Transport.BatchSize)
	assert.Equal(t, 0, merged.Transport.MaxRetries, "zero retries is a valid setting")
}

func TestStoreUpdateProducesNewSnapshot(t *testing.T) {
	s := NewStore(SDKOverrides{Debug: Ptr(false)})
	before := s.Snapshot()
	s.Update(SDKOverrides{Debug: Ptr(true)})
	after := s.Snapshot()

	assert.False(t, before.Debug)
	assert.True(t, after.Debug)
}

func TestLoadSDKOverrides(t *testing.T) {
	t.Setenv("TAPISTRY_PROJECT_KEY", "pk_env")
	t.Setenv("TAPISTRY_BATCH_SIZE", "7")
	t.Setenv("TAPISTRY_BATCH_TIMEOUT_MS", "250")
	t.Setenv("TAPISTRY_DEBUG", "maybe")

	o, problems := LoadSDKOverrides()
	require.Len(t, problems, 1)
	assert.Equal(t, "TAPISTRY_DEBUG", problems[0].Field)
	require.NotNil(t, o.ProjectKey)
	assert.Equal(t, "pk_env", *o.ProjectKey)
	require.NotNil(t, o.Transport)
	assert.Equal(t, 7, *o.Transport.BatchSize)
	assert.Equal(t, 250*time.Millisecond, *o.Transport.BatchTimeout)
	assert.Nil(t, o.Debug)
}
