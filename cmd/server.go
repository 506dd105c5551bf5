package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ffuentes/fluentforward/server"
	"github.com/ffuentes/fluentforward/server/receivers"
	"github.com/relex/gotils/logger"
)

type serverCmdState struct {
	server.Config
}

var serverCmd = serverCmdState{
	Config: server.Config{
		Address:        "localhost:24224",
		SharedKey:      "guess",
		TLS:            true,
		KeepAlive:      true,
		RandomAuthFail: 0.0,
		RandomConnKill: 0.0,
		RandomNoAnswer: 0.0,
	},
}

func (cmd *serverCmdState) Run(args []string) {
	output := os.Stdout
	if len(args) >= 1 && args[0] != "-" {
		file, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			logger.Fatalf("failed to create %s: %v", args[0], err)
		}
		defer file.Close()
		output = file
	}

	forwardServer, _ := server.LaunchServer(logger.Root(), cmd.Config, receivers.NewMessageWriter(output))

	sigChan := make(chan os.Signal, 10)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGTERM)

	s := <-sigChan
	logger.Infof("server received %v, stopping", s)

	forwardServer.Shutdown()
	logger.Info("server stopped")
}
