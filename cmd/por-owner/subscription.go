package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/ledger"
	"github.com/zmlAEQ/Aequa-storage/internal/por/public"
)

const (
	flagBuyerKey = "buyer-key"
	flagEscrow   = "escrow"
)

var buyerFlag = &cli.StringFlag{
	Name:     flagBuyerKey,
	EnvVars:  []string{"AEQUA_POR_BUYER_KEY"},
	Usage:    "buyer Base58 keypair",
	Required: true,
}

var escrowFlag = &cli.StringFlag{
	Name:     flagEscrow,
	Usage:    "escrow public key",
	Required: true,
}

func gateway(cctx *cli.Context) (*ledger.Gateway, error) {
	return ledger.NewGateway(ledger.Config{BaseURL: cctx.String(flagLedger)})
}

func printReceipt(rc ledger.Receipt, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(rc.Message)
	if !rc.Accepted {
		return cli.Exit("", 3)
	}
	return nil
}

var subscribeCmd = &cli.Command{
	Name:  "subscribe",
	Usage: "open an escrow subscription for an encoded file",
	Flags: []cli.Flag{
		buyerFlag,
		&cli.StringFlag{Name: "seller", Usage: "storage node public key", Required: true},
		&cli.Uint64Flag{Name: "blocks", Usage: "number of blocks in the encoded file", Required: true},
		&cli.Uint64Flag{Name: "query-size", Value: 10, Usage: "blocks challenged per audit"},
		&cli.DurationFlag{Name: "validate-every", Value: time.Minute, Usage: "audit interval"},
	},
	Action: func(cctx *cli.Context) error {
		keys, err := loadKeys(cctx)
		if err != nil {
			return err
		}
		defer keys.Destroy()
		if keys.Public == nil {
			return xerrors.Errorf("escrow verification needs %q keys", public.Name)
		}
		if err := ledger.ValidatePubkey(cctx.String("seller")); err != nil {
			return err
		}
		gw, err := gateway(cctx)
		if err != nil {
			return err
		}
		h := keys.Public.Params().Hex()
		out, err := gw.StartSubscription(cctx.Context, ledger.StartSubscriptionRequest{
			QuerySize:       cctx.Uint64("query-size"),
			NumberOfBlocks:  cctx.Uint64("blocks"),
			U:               h.U,
			G:               h.G,
			V:               h.V,
			ValidateEvery:   int64(cctx.Duration("validate-every") / time.Second),
			BuyerPrivateKey: cctx.String(flagBuyerKey),
			SellerPubkey:    cctx.String("seller"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("escrow:           %s\nsubscription_id:  %d\n", out.EscrowPubkey, out.SubscriptionID)
		return nil
	},
}

var addFundsCmd = &cli.Command{
	Name:  "add-funds",
	Usage: "fund an escrow",
	Flags: []cli.Flag{
		buyerFlag,
		escrowFlag,
		&cli.Uint64Flag{Name: "amount", Usage: "lamports to add", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		gw, err := gateway(cctx)
		if err != nil {
			return err
		}
		return printReceipt(gw.AddFunds(cctx.Context, cctx.String(flagBuyerKey), cctx.String(flagEscrow), cctx.Uint64("amount")))
	},
}

var endCmd = &cli.Command{
	Name:  "end",
	Usage: "end a subscription as the buyer",
	Flags: []cli.Flag{buyerFlag, escrowFlag},
	Action: func(cctx *cli.Context) error {
		gw, err := gateway(cctx)
		if err != nil {
			return err
		}
		return printReceipt(gw.EndSubscriptionByBuyer(cctx.Context, cctx.String(flagBuyerKey), cctx.String(flagEscrow)))
	},
}

var requestFundsCmd = &cli.Command{
	Name:  "request-funds",
	Usage: "withdraw the remaining escrow balance as the buyer",
	Flags: []cli.Flag{buyerFlag, escrowFlag},
	Action: func(cctx *cli.Context) error {
		gw, err := gateway(cctx)
		if err != nil {
			return err
		}
		return printReceipt(gw.RequestFundsAs(cctx.Context, cctx.String(flagBuyerKey), cctx.String(flagEscrow)))
	},
}
