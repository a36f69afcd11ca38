package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carrierwave/internal/config"
)

func TestDepositsEnabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want bool
	}{
		{"development default", config.Config{Env: "development"}, false},
		{"opt-in memory ledger", config.Config{Env: "development", EnableDevRoutes: true}, true},
		{"development postgres", config.Config{Env: "development", DatabaseURL: "postgres://db/ledger"}, false},
		{"opt-in postgres", config.Config{EnableDevRoutes: true, DatabaseURL: "postgres://db/ledger"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, depositsEnabled(tc.cfg))
		})
	}
}
