// cmd/token/main.go
// Mints an operator JWT for the status API, signed with JWT_SECRET.
//
// Usage:
//
//	go run ./cmd/token --operator padraic --ttl 720h
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/padraicbc/dhworkers/config"
	mw "github.com/padraicbc/dhworkers/middleware"
)

func main() {
	var operator string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Mint a status API token",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			tok, err := mw.Issue(cfg.JWTKey(), operator, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
