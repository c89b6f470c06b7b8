package cache_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()

	c, err := cache.NewClient(cache.Config{
		Name:    "fail_open",
		Host:    mr.Host(),
		Port:    port,
		Timeout: 100 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "fail_open", c.Name())
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 100*time.Millisecond, c.RedisClient().Options().ReadTimeout)
	assert.Equal(t, "fail_open", hook.LastEntry().Data["pool"])
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()
	logger, _ := test.NewNullLogger()

	c, err := cache.NewClient(cache.Config{
		Name:    "fail_closed",
		Host:    "127.0.0.1",
		Port:    port,
		Timeout: 50 * time.Millisecond,
	}, logger)

	assert.Nil(t, c)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fail_closed")
}
