package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/keystore"
	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/private"
	"github.com/zmlAEQ/Aequa-storage/internal/por/public"
)

func keyStore(cctx *cli.Context) (*keystore.Store, error) {
	p, err := homedir.Expand(cctx.String(flagKeys))
	if err != nil {
		return nil, err
	}
	return keystore.FromEnv(p)
}

func loadKeys(cctx *cli.Context) (keystore.Keys, error) {
	ks, err := keyStore(cctx)
	if err != nil {
		return keystore.Keys{}, err
	}
	return ks.Load(cctx.Context)
}

// kit returns the tagger and verifier for the loaded scheme.
func kit(k keystore.Keys) (por.Tagger, por.Verifier, error) {
	switch {
	case k.Public != nil:
		t, err := public.NewTagger(k.Public)
		if err != nil {
			return nil, nil, err
		}
		v, err := public.NewVerifier(k.Public.Params(), public.DefaultCacheSize)
		return t, v, err
	case k.Private != nil:
		t, err := private.NewTagger(k.Private)
		if err != nil {
			return nil, nil, err
		}
		v, err := private.NewVerifier(k.Private)
		return t, v, err
	}
	return nil, nil, keystore.ErrEmptyKeys
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate owner key material",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "scheme",
			Value: public.Name,
			Usage: fmt.Sprintf("audit scheme (%s or %s)", public.Name, private.Name),
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite an existing key file",
		},
	},
	Action: func(cctx *cli.Context) error {
		ks, err := keyStore(cctx)
		if err != nil {
			return err
		}
		if _, err := os.Stat(ks.Path()); err == nil && !cctx.Bool("force") {
			return xerrors.Errorf("%s exists, use --force to replace it", ks.Path())
		}
		var keys keystore.Keys
		switch cctx.String("scheme") {
		case public.Name:
			keys.Public, err = public.Setup(rand.Reader)
		case private.Name:
			keys.Private, err = private.GenerateKey(rand.Reader)
		default:
			return xerrors.Errorf("unknown scheme %q", cctx.String("scheme"))
		}
		if err != nil {
			return err
		}
		defer keys.Destroy()
		if err := os.MkdirAll(filepath.Dir(ks.Path()), 0o700); err != nil {
			return err
		}
		if err := ks.Save(cctx.Context, keys); err != nil {
			return err
		}
		fmt.Printf("%s keys written to %s\n", keys.Scheme(), ks.Path())
		return nil
	},
}

var paramsCmd = &cli.Command{
	Name:  "params",
	Usage: "print the public verification parameters (g, v, u) as hex",
	Action: func(cctx *cli.Context) error {
		keys, err := loadKeys(cctx)
		if err != nil {
			return err
		}
		defer keys.Destroy()
		if keys.Public == nil {
			return xerrors.Errorf("%s keys have no public parameters", keys.Scheme())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys.Public.Params().Hex())
	},
}
