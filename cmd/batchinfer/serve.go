package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/batchinfer/api"
	"github.com/stellarlinkco/batchinfer/internal/generator"
	"github.com/stellarlinkco/batchinfer/internal/store"
)

func newServeCmd(st *cliState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(st, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(st *cliState, addr string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	if st.verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	reg, err := generator.NewRegistryFromConfig(st.cfg)
	if err != nil {
		return err
	}

	sto, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer sto.Close()

	srv, err := api.NewServer(st.cfg, sto, reg, logger)
	if err != nil {
		return err
	}

	if strings.TrimSpace(addr) == "" {
		addr = st.cfg.Server.Addr
	}
	fmt.Printf("Listening on %s\n", addr)
	return srv.Run(addr)
}
