package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/vetassist/mcp-bridge/internal/business"
	"github.com/vetassist/mcp-bridge/internal/cmdutils"
)

func Cmd(version string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"MCP Bridge API server",
		"MCP Bridge API server hosts the public HTTP API the chat client talks to.",
		version,
		cmdutils.RunAsService,
		business.Main,
	)
}
