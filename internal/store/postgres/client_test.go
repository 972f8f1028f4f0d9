package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/marketd?sslmode=disable", DSN(ClientConfig{
		Host: "db", User: "u", Password: "p", Database: "marketd",
	}))
	assert.Equal(t, "postgres://u:p@db:6543/x?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 6543, User: "u", Password: "p", Database: "x", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	sql := string(data)
	for _, table := range []string{"listings", "royalties", "earnings", "payouts", "audit_log"} {
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}

func TestEarningsMigrationMovesBalancesToCredits(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.Contains(t, names, "002_earnings_credits.sql")

	data, err := migrationsFS.ReadFile("migrations/002_earnings_credits.sql")
	require.NoError(t, err)
	sql := string(data)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS earnings_credits ")
	assert.Contains(t, sql, "INSERT INTO earnings_credits")
	assert.Contains(t, sql, "DROP TABLE IF EXISTS earnings;")
	assert.Less(t, strings.Index(sql, "INSERT INTO earnings_credits"), strings.Index(sql, "DROP TABLE"))
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	_, err = parseAmount("1.5")
	assert.Error(t, err)
}
