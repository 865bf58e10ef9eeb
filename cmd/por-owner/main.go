package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zmlAEQ/Aequa-storage/internal/blockstore"
	"github.com/zmlAEQ/Aequa-storage/internal/ledger"
	"github.com/zmlAEQ/Aequa-storage/pkg/logger"
)

const (
	flagKeys      = "keys"
	flagLedger    = "ledger"
	flagBlockSize = "block-size"
	flagLogLevel  = "log-level"
)

func main() {
	app := &cli.App{
		Name:                 "por-owner",
		Usage:                "Prepare files for audited storage and manage their escrow subscriptions",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagKeys,
				EnvVars: []string{"AEQUA_POR_KEYS"},
				Value:   "~/.aequa-por/owner.keys",
				Usage:   "owner key file",
			},
			&cli.StringFlag{
				Name:    flagLedger,
				EnvVars: []string{"AEQUA_POR_LEDGER"},
				Value:   ledger.DefaultBaseURL,
				Usage:   "escrow gateway base URL",
			},
			&cli.IntFlag{
				Name:  flagBlockSize,
				Value: blockstore.DefaultBlockSize,
				Usage: "data bytes per block",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "warn",
				Usage: "log level",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logger.SetLevel(cctx.String(flagLogLevel))
		},
		Commands: []*cli.Command{
			keygenCmd,
			paramsCmd,
			encodeCmd,
			decodeCmd,
			auditCmd,
			subscribeCmd,
			addFundsCmd,
			endCmd,
			requestFundsCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err) // nolint:errcheck
		os.Exit(1)
	}
}
