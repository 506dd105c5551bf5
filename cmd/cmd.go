// Package cmd provides the list of commands for the fluentforward tool
package cmd

import (
	"github.com/relex/gotils/config"
)

func init() {
	config.AddParentCmdWithArgs("", "Client, server and dump tools for the Fluentd Forward protocol", nil, nil, nil)
	config.AddCmdWithArgs("dump <path-to-files-or-dirs>...", "Dump given files or dirs. Support Fluent Bit chunk files (.flb) and Fluentd Forward messages in msgpack format", &dumpCmd, dumpCmd.Run)
	config.AddCmdWithArgs("send <path-to-json-files>...", "Send log records from JSON-lines files to a Fluentd Forward server.", &sendCmd, sendCmd.Run)
	config.AddCmdWithArgs("server <output_file>", "Run a server for Fluentd Forward Protocol and output logs in JSON.", &serverCmd, serverCmd.Run)
}

// Execute parses command-line and executes the root command
func Execute() {
	// trigger init

	config.Execute()
}
