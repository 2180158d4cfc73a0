package migrate

import (
	"github.com/spf13/cobra"

	"github.com/vetassist/mcp-bridge/internal/business"
	"github.com/vetassist/mcp-bridge/internal/cmdutils"
)

func Cmd(version string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"MCP Bridge migrations",
		"MCP Bridge migrations bring the session database schema up to date.",
		version,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
