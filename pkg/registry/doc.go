// Package registry owns the configured servers and the provider built for
// each of them.
//
// Server definitions live in the ledger. The registry reads them, asks a
// provider.Factory for the backend matching each server's type and
// connection method, and publishes the resulting map with a single atomic
// swap. Callers that already hold a provider keep using it after a Reload;
// new lookups see the new map.
//
// Usage:
//
//	reg := registry.New(store, provider.NewFactory(nil))
//	if err := reg.Reload(ctx); err != nil {
//	    return err
//	}
//	p, err := reg.Provider("srv-1")
package registry
