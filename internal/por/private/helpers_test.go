package private

import "github.com/zmlAEQ/Aequa-storage/internal/por/secret"

func secretBytes(b []byte) *secret.Scalar { return secret.FromBytes(b) }
