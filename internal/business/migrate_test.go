package business

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vetassist/mcp-bridge/internal/config"
)

func TestMigrateMain_InvalidDatabaseConfig(t *testing.T) {
	cfg := &config.Config{
		Database: config.Database{
			Host:     config.SourceRef{Source: "file", File: "/nonexistent/file"},
			Port:     "5432",
			Name:     "testdb",
			User:     config.SourceRef{Source: "embedded", Value: "user"},
			Password: config.SourceRef{Source: "embedded", Value: "pass"},
		},
	}

	err := MigrateMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}

func TestMigrateMain_InvalidPasswordRef(t *testing.T) {
	cfg := &config.Config{
		Database: config.Database{
			Host:     config.SourceRef{Source: "embedded", Value: "localhost"},
			Port:     "5432",
			Name:     "testdb",
			User:     config.SourceRef{Source: "embedded", Value: "user"},
			Password: config.SourceRef{Source: "file", File: "/nonexistent/file"},
		},
	}

	err := MigrateMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}
