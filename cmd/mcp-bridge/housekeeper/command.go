package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/vetassist/mcp-bridge/internal/business"
	"github.com/vetassist/mcp-bridge/internal/cmdutils"
)

func Cmd(version string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"MCP Bridge Housekeeping job",
		"MCP Bridge Housekeeping job removes expired and idle sessions.",
		version,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
