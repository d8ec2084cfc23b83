package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Kingdoms:      []uint32{109, 111},
		SearchTarget:  "Mercenary Exchange",
		ScanPattern:   "known",
		KnownCoverage: 0.8,
		ExchangeLog:   "exchanges.jsonl",
		AuthToken:     "secret",
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Config{ScanPattern: "bogus"}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "KINGDOMS")
	assert.Contains(t, err.Error(), "AUTH_TOKEN")
	assert.Contains(t, err.Error(), "SEARCH_TARGET")
	assert.Contains(t, err.Error(), "SCAN_PATTERN")
}

func TestValidateRejectsCoverageOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.KnownCoverage = 1.5
	assert.Error(t, cfg.Validate())

	cfg.KnownCoverage = 0
	assert.Error(t, cfg.Validate())
}

func TestParseKingdoms(t *testing.T) {
	got, err := parseKingdoms(" 109, 111 ,204")
	assert.NoError(t, err)
	assert.Equal(t, []uint32{109, 111, 204}, got)
}

func TestParseKingdomsEmpty(t *testing.T) {
	got, err := parseKingdoms("")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseKingdomsInvalid(t *testing.T) {
	_, err := parseKingdoms("109,abc")
	assert.Error(t, err)
}

func TestReferenceAssetPath(t *testing.T) {
	cfg := Config{SearchTarget: "Mercenary Exchange"}
	assert.Equal(t, "assets/mercenary_exchange_ref.png", cfg.ReferenceAssetPath())
}
