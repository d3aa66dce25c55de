// Package fleet assembles the control plane once per process.
//
// A Fleet owns the ledger store, the provider registry, the deployment
// manager and the reconciliation service, and exposes the operations the
// HTTP API and the CLI call. Tests build a fresh Fleet per case instead of
// sharing package state.
//
//	f, err := fleet.New(ctx, fleet.Options{Ledger: "sqlite://data/fleet.db"})
//	if err != nil {
//	    return err
//	}
//	defer f.Close(ctx)
//
//	acc, err := f.CreatePod(ctx, "srv-1", deploy.Request{Name: "web"})
package fleet
