// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// vaspd runs a standalone VASP node, exposing the travel rule client via a
// local REST API for operator tooling.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	openvasp "github.com/getopenvasp/go-openvasp"
	"github.com/getopenvasp/go-openvasp/config"
	"github.com/getopenvasp/go-openvasp/rest"
	"github.com/spf13/cobra"
)

var (
	configFlag    string
	apiportFlag   int
	verbosityFlag int
)

var rootCmd = &cobra.Command{
	Use:          "vaspd",
	Short:        "Standalone OpenVASP travel rule node",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configFlag, "config", "", "Path to the JSON configuration file")
	rootCmd.Flags().IntVar(&apiportFlag, "apiport", 4444, "TCP port to launch the API server on")
	rootCmd.Flags().IntVar(&verbosityFlag, "verbosity", int(log.LvlInfo), "Log level to run with")
}

func run(cmd *cobra.Command, args []string) error {
	// Enable colored terminal logging
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(verbosityFlag), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	backend, err := openvasp.NewBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// Expose the node via REST and wait for an interrupt
	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", apiportFlag),
		Handler: rest.New(backend),
	}
	failure := make(chan error, 1)
	go func() {
		failure <- server.ListenAndServe()
	}()
	log.Info("VASP node running", "vasp", backend.Manager().Code(), "api", server.Addr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-failure:
		return err
	case <-interrupt:
		log.Info("Shutting down VASP node")
		server.Close()
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
