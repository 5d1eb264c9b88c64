// Server = the policy engine behind the http surface.
// All components are configured via environment variables or a config file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/policyapi"
)

func NewPolicyServer(cfg *PolicyConfig) *policyapi.HttpServer {
	return policyapi.NewHttpServer(cfg.HttpIp, cfg.HttpPort, cfg.BtcChainConfig, cfg.Keys, cfg.Limits)
}

// StartPolicyServerAndWait serves until the listener fails or the process
// receives Ctrl-C (SIGINT) or SIGTERM.
func StartPolicyServerAndWait(cfg *PolicyConfig) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	server := NewPolicyServer(cfg)
	go func() {
		errCh <- server.Run()
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal: %v, shutting down...\n", sig)
	case err := <-errCh:
		logger.Fatalf("policy server stopped: %v", err)
	}
}
