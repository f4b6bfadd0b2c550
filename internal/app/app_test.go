package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-dispatch/internal/app"
	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/logger"
	"github.com/unclebandit/outreach-dispatch/internal/mailer"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

func memoryConfig() config.Config {
	return config.Config{
		AppEnv:           "test",
		LockBackend:      "memory",
		EmailProvider:    "dryrun",
		DispatchInterval: time.Second,
		ResendInterval:   time.Minute,
		BatchSize:        10,
		ChildBatchSize:   5,
		ResendChunkSize:  50,
		ClaimTTL:         time.Minute,
		SendTimeout:      time.Second,
	}
}

func TestBuild_InMemory(t *testing.T) {
	a, err := app.Build(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, isMemory := a.Dispatcher.Campaigns.(*repository.MemoryStore)
	assert.True(t, isMemory)
	assert.IsType(t, mailer.DryRunSender{}, a.Dispatcher.Sender)
	assert.NotNil(t, a.Dispatcher.Locker)
	assert.Same(t, a.Dispatcher, a.Planner.Dispatcher)
	assert.Equal(t, 5, a.Planner.ChildBatchSize)

	s := a.Scheduler()
	assert.Equal(t, 10, s.BatchSize)
	assert.Equal(t, time.Second, s.DispatchInterval)
}

func TestBuild_RouterServesHealth(t *testing.T) {
	a, err := app.Build(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.EmailProvider = "pigeon"
	_, err := app.Build(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
}
