package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balltickets/config"
	"balltickets/entity"
)

const validSettings = `
ticket_ttl: 30m
capacity: 100
per_person_limit: 4
sales_open: true
cancellation_enabled: true
waiting_list_open: false
waiting_list_type: standard
terms:
  - term: HT
    until: 2027-03-13T00:00:00Z
  - term: MT
    until: 2026-12-05T00:00:00Z
ticket_types:
  - slug: standard
    name: Standard
    price: 9500
  - slug: staff
    name: Staff
    price: 0
    admin_only: true
postage:
  - slug: first
    name: First class
    price: 300
    needs_address: true
`

func TestParse(t *testing.T) {
	file, err := config.Parse([]byte(validSettings))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, file.TicketTTL)
	require.Len(t, file.Terms, 2)
	assert.Equal(t, "MT", file.Terms[0].Term, "terms are ordered by end")
	assert.Equal(t, entity.Money(9500), file.TicketTypes[0].Price)
}

func TestParse_invalid(t *testing.T) {
	testCases := []struct {
		Name     string
		Settings string
	}{
		{
			Name:     "unknown_key",
			Settings: validSettings + "\nsurprise: true\n",
		},
		{
			Name: "no_ticket_types",
			Settings: `
ticket_ttl: 30m
per_person_limit: 4
waiting_list_type: standard
`,
		},
		{
			Name: "waiting_list_type_missing",
			Settings: `
ticket_ttl: 30m
per_person_limit: 4
waiting_list_type: vip
ticket_types:
  - slug: standard
    name: Standard
    price: 9500
`,
		},
		{
			Name: "negative_price",
			Settings: `
ticket_ttl: 30m
per_person_limit: 4
waiting_list_type: standard
ticket_types:
  - slug: standard
    name: Standard
    price: -1
`,
		},
		{
			Name: "duplicate_type",
			Settings: `
ticket_ttl: 30m
per_person_limit: 4
waiting_list_type: standard
ticket_types:
  - slug: standard
    name: Standard
    price: 1
  - slug: standard
    name: Standard again
    price: 2
`,
		},
		{
			Name: "unknown_term",
			Settings: `
ticket_ttl: 30m
per_person_limit: 4
waiting_list_type: standard
terms:
  - term: XX
    until: 2026-12-05T00:00:00Z
ticket_types:
  - slug: standard
    name: Standard
    price: 1
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.Settings))
			assert.Error(t, err)
		})
	}
}

func TestSettings_Snapshot(t *testing.T) {
	file, err := config.Parse([]byte(validSettings))
	require.NoError(t, err)
	settings := config.NewSettings(file)

	testCases := []struct {
		Now  time.Time
		Term entity.Term
	}{
		{Now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC), Term: entity.Michaelmas},
		{Now: time.Date(2026, 12, 5, 0, 0, 0, 0, time.UTC), Term: entity.Hilary},
		{Now: time.Date(2027, 5, 1, 0, 0, 0, 0, time.UTC), Term: entity.NoTerm},
	}

	for _, tc := range testCases {
		t.Run(tc.Now.Format(time.DateOnly), func(t *testing.T) {
			s := settings.Snapshot(tc.Now)
			assert.Equal(t, tc.Term, s.CurrentTerm)
			assert.Equal(t, tc.Now, s.Now)
		})
	}

	s := settings.Snapshot(time.Now())
	assert.Equal(t, 100, s.Capacity)
	assert.True(t, s.TicketTypes["staff"].AdminOnly)
	assert.True(t, s.Postage["first"].NeedsAddress)
	assert.False(t, s.Lockdown)

	settings.SetLockdown(true)
	assert.True(t, settings.Snapshot(time.Now()).Lockdown)
	assert.False(t, s.Lockdown, "snapshots are not affected by later changes")
}

func TestSettings_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSettings), 0o600))

	settings, err := config.LoadSettings(path)
	require.NoError(t, err)
	settings.SetLockdown(true)

	updated := strings.Replace(validSettings, "capacity: 100", "capacity: 200", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, settings.Reload())

	s := settings.Snapshot(time.Now())
	assert.Equal(t, 200, s.Capacity)
	assert.True(t, s.Lockdown, "runtime lockdown survives reload")

	require.NoError(t, os.WriteFile(path, []byte("capacity: [broken"), 0o600))
	assert.Error(t, settings.Reload())
	assert.Equal(t, 200, settings.Snapshot(time.Now()).Capacity)
}

func TestLoad(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/balltickets")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GATEWAY_URL", "http://gateway")
	t.Setenv("GATEWAY_SECRET", "secret")
	t.Setenv("PAYMENT_RETURN_URL", "http://return")
	t.Setenv("NOTIFICATIONS_URL", "http://notifications")

	cfg, err := config.Load([]string{"--http-addr", ":9090"})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.FastSweepEvery)
	assert.Equal(t, 20*time.Minute, cfg.SlowSweepEvery)
	assert.Equal(t, "settings.yaml", cfg.SettingsFile)
}
