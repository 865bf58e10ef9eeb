package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/blockstore"
	"github.com/zmlAEQ/Aequa-storage/internal/pipeline"
	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/scheduler"
)

var encodeCmd = &cli.Command{
	Name:      "encode",
	Usage:     "erasure-code and tag a file for upload",
	ArgsUsage: "<file> [out]",
	Action: func(cctx *cli.Context) error {
		in := cctx.Args().Get(0)
		if in == "" {
			return xerrors.New("input file required")
		}
		out := cctx.Args().Get(1)
		if out == "" {
			out = in + pipeline.EncodedSuffix
		}
		keys, err := loadKeys(cctx)
		if err != nil {
			return err
		}
		defer keys.Destroy()
		t, _, err := kit(keys)
		if err != nil {
			return err
		}
		src, err := os.Open(in)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		enc, err := pipeline.Encode(cctx.Context, src, dst, t, cctx.Int(flagBlockSize))
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(out)
			return err
		}
		fmt.Printf("file:    %s\nscheme:  %s\nblocks:  %d\nbytes:   %d\nblake3:  %s\n", out, keys.Scheme(), enc.Blocks, enc.Stored, enc.Digest)
		return nil
	},
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "strip authenticators and repair a downloaded file",
	ArgsUsage: "<file.encoded> [out]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "scheme",
			Usage: "scheme the file was tagged with (default: from the key file)",
		},
	},
	Action: func(cctx *cli.Context) error {
		in := cctx.Args().Get(0)
		if in == "" {
			return xerrors.New("input file required")
		}
		out := cctx.Args().Get(1)
		if out == "" {
			out = strings.TrimSuffix(in, pipeline.EncodedSuffix) + ".decoded"
		}
		name := cctx.String("scheme")
		if name == "" {
			keys, err := loadKeys(cctx)
			if err != nil {
				return err
			}
			name = keys.Scheme()
			keys.Destroy()
		}
		s, err := scheduler.SchemeByName(name)
		if err != nil {
			return err
		}
		src, err := os.Open(in)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.Create(out)
		if err != nil {
			return err
		}
		st, err := pipeline.Decode(cctx.Context, src, dst, blockstore.Layout{BlockSize: cctx.Int(flagBlockSize), TagSize: s.TagSize()})
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Printf("file:       %s\ncodewords:  %d\ncorrected:  %d\n", out, st.Codewords, st.Corrected)
		return nil
	},
}

var auditCmd = &cli.Command{
	Name:      "audit",
	Usage:     "run a local challenge round against an encoded file",
	ArgsUsage: "<file.encoded>",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "queries",
			Value: 10,
			Usage: "number of challenged blocks",
		},
	},
	Action: func(cctx *cli.Context) error {
		in := cctx.Args().Get(0)
		if in == "" {
			return xerrors.New("input file required")
		}
		keys, err := loadKeys(cctx)
		if err != nil {
			return err
		}
		defer keys.Destroy()
		_, v, err := kit(keys)
		if err != nil {
			return err
		}
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		l := blockstore.Layout{BlockSize: cctx.Int(flagBlockSize), TagSize: v.Scheme().TagSize()}
		n, err := l.Blocks(fi.Size())
		if err != nil {
			return err
		}
		verdict, err := pipeline.Audit(cctx.Context, f, l.BlockSize, v, por.NewSampler(rand.Reader, v.Scheme().Order()), n, cctx.Uint64("queries"))
		if err != nil {
			return err
		}
		fmt.Printf("blocks:   %d\nverdict:  %s\n", n, verdict)
		if !verdict.OK() {
			return cli.Exit("", 3)
		}
		return nil
	},
}
