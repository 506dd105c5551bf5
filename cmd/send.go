package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"

	"github.com/ffuentes/fluentforward/client"
	"github.com/relex/gotils/logger"
)

type sendCmdState struct {
	client.Config
}

var sendCmd = sendCmdState{
	Config: client.Config{
		TagPrefix: "fluentforward.send",
		SharedKey: "guess",
		Socket: client.SocketConfig{
			Address: "localhost:24224",
			TLS:     true,
			// the built-in server certificate is self-signed
			InsecureSkipVerify: true,
		},
	},
}

func (cmd *sendCmdState) Run(args []string) {
	if len(args) < 1 {
		logger.Fatal("requires at least one JSON-lines file")
	}
	fclient, cerr := client.NewClient(logger.Root(), cmd.Config)
	if cerr != nil {
		logger.Fatal(cerr)
	}

	var futures []*client.Future
	for _, path := range args {
		file, err := os.Open(path)
		if err != nil {
			logger.Fatalf("failed to open %s: %v", path, err)
		}
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 1048576), 1048576)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var record map[string]interface{}
			if err := json.Unmarshal(line, &record); err != nil {
				logger.Fatalf("failed to parse record in %s: %v", path, err)
			}
			futures = append(futures, fclient.Emit(record))
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("failed to read %s: %v", path, err)
		}
		file.Close()
	}

	fclient.SyncFlush()
	if err := fclient.Disconnect(); err != nil {
		logger.Warn("failed to disconnect: ", err)
	}

	numFailed := 0
	for _, future := range futures {
		if err := future.Wait(); err != nil {
			numFailed++
			logger.Warn("failed to send: ", err)
		}
	}
	logger.Infof("sent %d records, %d failed", len(futures)-numFailed, numFailed)
}
