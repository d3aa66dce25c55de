// Package cli implements the fleet command-line interface.
//
// Every command opens the ledger named by --ledger (FLEET_LEDGER), performs
// one operation through pkg/fleet and closes it again; deployments started
// by a command finish before the process exits.
//
// # Commands
//
//	fleet servers list [--pods]
//	fleet servers add --file server.yaml | --id ID --type kubernetes|mock|demo [...]
//	fleet servers remove ID
//	fleet servers verify ID [--namespace NS]
//	fleet pod create --server ID --name NAME [--cpus N --ram N --gpus N --storage N] [--wait]
//	fleet pod status --server ID POD_ID
//	fleet pod update --server ID POD_ID [--cpus N ...]
//	fleet pod delete --server ID POD
//	fleet refresh [--server ID] [--watch [--interval D] [--count N]]
//	fleet check
//	fleet demo
//
// Output goes to stdout, a file, or a ConfigMap (--output cm://namespace/name)
// in table, json or yaml format (--format).
//
// Version information is set at build time using ldflags:
//
//	go build -ldflags="-X 'github.com/NVIDIA/fleet-ledger/pkg/cli.version=1.0.0'"
package cli
