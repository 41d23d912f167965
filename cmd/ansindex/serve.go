package main

import (
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ndlib/ansindex/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups from the index over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		srv := &server.RESTServer{
			PortNumber: cfg.Port,
			DB:         s.db,
			Payloads:   s.payloads,
			Runner:     s.runner(cfg),
		}
		if cfg.Tokens != "" {
			srv.Validator, err = server.NewListValidatorFile(cfg.Tokens)
			if err != nil {
				return err
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		go func() {
			<-sig
			logrus.Info("Received signal, stopping")
			srv.Stop()
		}()
		return srv.Run()
	},
}

func init() {
	serveCmd.Flags().String("port", "14000", "port to listen on")
}
