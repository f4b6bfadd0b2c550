package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

func mustConfig(t *testing.T, c *model.Campaign) Config {
	t.Helper()
	cfg, err := FromCampaign(c)
	require.NoError(t, err)
	return cfg
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestAllow_BoundedByRequestAndQuota(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{SendRate: 10, WindowStart: "09:00", WindowEnd: "17:00"})

	d := Allow(cfg, at(10, 0), 0, 25)
	assert.Equal(t, 10, d.Allowed)
	assert.Equal(t, ReasonOK, d.Reason)

	d = Allow(cfg, at(10, 0), 7, 25)
	assert.Equal(t, 3, d.Allowed)

	d = Allow(cfg, at(10, 0), 2, 5)
	assert.Equal(t, 5, d.Allowed)
	assert.Equal(t, 8, d.QuotaRemaining)
}

func TestAllow_QuotaExhausted(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{SendRate: 10})
	d := Allow(cfg, at(10, 0), 12, 25)
	assert.Equal(t, 0, d.Allowed)
	assert.Equal(t, ReasonQuotaExhausted, d.Reason)
}

func TestAllow_ZeroRateIsUncapped(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{})
	d := Allow(cfg, at(3, 0), 10000, 100)
	assert.Equal(t, 100, d.Allowed)
	assert.Equal(t, -1, d.QuotaRemaining)
}

func TestAllow_Window(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{SendRate: 100, WindowStart: "09:00", WindowEnd: "17:00"})

	assert.Equal(t, ReasonOutsideWindow, Allow(cfg, at(8, 59), 0, 10).Reason)
	assert.Equal(t, 10, Allow(cfg, at(9, 0), 0, 10).Allowed)
	assert.Equal(t, 10, Allow(cfg, at(16, 59), 0, 10).Allowed)
	// end is exclusive
	assert.Equal(t, 0, Allow(cfg, at(17, 0), 0, 10).Allowed)
}

func TestAllow_WindowUsesCampaignTimezone(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{WindowStart: "09:00", WindowEnd: "17:00", Timezone: "America/New_York"})

	// 13:00 UTC in March (EST, UTC-5) is 08:00 local
	assert.False(t, cfg.InWindow(at(13, 0)))
	assert.True(t, cfg.InWindow(at(14, 0)))
}

func TestInWindow_WrapsMidnight(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{WindowStart: "22:00", WindowEnd: "02:00"})
	assert.True(t, cfg.InWindow(at(23, 30)))
	assert.True(t, cfg.InWindow(at(1, 59)))
	assert.False(t, cfg.InWindow(at(2, 0)))
	assert.False(t, cfg.InWindow(at(12, 0)))
}

func TestAllow_NothingRequested(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{SendRate: 5})
	d := Allow(cfg, at(10, 0), 0, 0)
	assert.Equal(t, ReasonNothingRequested, d.Reason)
	assert.Equal(t, 0, d.Allowed)
}

func TestNextOpening(t *testing.T) {
	cfg := mustConfig(t, &model.Campaign{WindowStart: "09:00", WindowEnd: "17:00"})

	assert.Equal(t, at(9, 0), NextOpening(cfg, at(7, 15)))
	assert.Equal(t, at(9, 0).AddDate(0, 0, 1), NextOpening(cfg, at(18, 0)))
	assert.Equal(t, at(10, 0), NextOpening(cfg, at(10, 0)))
}

func TestFromCampaign_Errors(t *testing.T) {
	_, err := FromCampaign(&model.Campaign{WindowStart: "9am", WindowEnd: "17:00"})
	assert.Error(t, err)

	_, err = FromCampaign(&model.Campaign{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = FromCampaign(&model.Campaign{SendRate: -1})
	assert.Error(t, err)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, Clock(570), c)
	assert.Equal(t, "09:30", c.String())

	c, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(1440), c)

	_, err = ParseClock("24:30")
	assert.Error(t, err)
}
