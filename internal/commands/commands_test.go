package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/internal/database"
)

func TestResolveSymbols(t *testing.T) {
	configured := []string{"BTCUSDT", "ETHUSDT"}

	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{"configured", nil, nil, []string{"BTCUSDT", "ETHUSDT"}},
		{"flag wins over config", nil, []string{"solusdt"}, []string{"SOLUSDT"}},
		{"args win over flag", []string{"eur_usd", " gbp_usd "}, []string{"solusdt"}, []string{"EUR_USD", "GBP_USD"}},
		{"dedup and blanks", []string{"aapl", "AAPL", "", "msft"}, nil, []string{"AAPL", "MSFT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveSymbols(tt.args, tt.flags, configured))
		})
	}
}

func TestPendingMigrations(t *testing.T) {
	migrations := []database.Migration{
		{Version: "001", Name: "create_fib_analyses"},
		{Version: "002", Name: "add_index"},
	}
	applied := map[string]time.Time{"001": time.Now()}

	pending := pendingMigrations(migrations, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, "002", pending[0].Version)
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2025, 10, 6, 14, 30, 0, 0, time.UTC)
	migrations := []database.Migration{
		{Version: "001", Name: "create_fib_analyses"},
		{Version: "002", Name: "add_index"},
	}
	applied := map[string]time.Time{"001": at, "000": at}

	var out bytes.Buffer
	printMigrationStatus(&out, migrations, applied)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "create_fib_analyses")
	assert.Contains(t, lines[1], "2025-10-06 14:30:00")
	assert.Contains(t, lines[2], "pending")
	assert.Contains(t, lines[3], "(unknown)")
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["analyze"])
	assert.True(t, names["server"])
	assert.True(t, names["migrate"])
	assert.True(t, names["archive"])
}

func TestAnalyzeRejectsInvalidInterval(t *testing.T) {
	analyzeInterval = "7m"
	t.Cleanup(func() { analyzeInterval = "" })

	err := runAnalyze(analyzeCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid interval")
}
