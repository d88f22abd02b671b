package v1

import "github.com/basinlabs/browserbridge/internal/wire"

func storeKind(s string) wire.StoredKind {
	return wire.StoredKind(s)
}
