package health

import (
	"context"
	"errors"
)

// IndexReadiness reports whether the vector index has been provisioned and is
// accepting reads and writes. Satisfied by the index lifecycle manager.
type IndexReadiness interface {
	Ready() bool
}

// CredentialSource reports how many credentials are currently usable by the
// rotation pool. Satisfied by the credential pool.
type CredentialSource interface {
	Usable() int
}

// IndexChecker returns a [Checker] that fails until the vector index is ready.
func IndexChecker(idx IndexReadiness) Checker {
	return Checker{
		Name: "index",
		Check: func(_ context.Context) error {
			if !idx.Ready() {
				return errors.New("vector index not ready")
			}
			return nil
		},
	}
}

// CredentialChecker returns a [Checker] that fails when no credential is
// usable, meaning every key is exhausted or invalid.
func CredentialChecker(src CredentialSource) Checker {
	return Checker{
		Name: "credentials",
		Check: func(_ context.Context) error {
			if src.Usable() == 0 {
				return errors.New("no usable credentials in pool")
			}
			return nil
		},
	}
}

// StoreChecker returns a [Checker] that pings the vector store. The ping
// function should be a cheap round trip, for example a pooled connection ping.
func StoreChecker(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}
