// Command vaultsweep manages the lifecycle of hard-coded secrets in a project.
//
// # Storage run
//
//	vaultsweep manage --scan                          # report only
//	vaultsweep manage --scan --auto-store             # store in Vault
//	vaultsweep manage --scan --auto-store --replace   # and rewrite files
//
// Every rewritten file is backed up first; see "vaultsweep backup list".
//
// # Validation
//
//	vaultsweep validate --path ./myproj
//	vaultsweep validate --watch
//
// validate exits 1 if any {{vault:<path>:<key>}} reference does not resolve.
//
// # Backends
//
// The store is chosen by vault_config.backend: "hashicorp" (Vault HTTP API),
// "cli" (the vault binary), "sql" (Postgres, see "vaultsweep db migrate") or
// "memory".
//
// # Environment Variables
//
//   - VAULTSWEEP_CONFIG: config file path
//   - VAULT_ADDR, VAULT_TOKEN: Vault address and token
//   - VAULTSWEEP_BACKEND, VAULTSWEEP_PROJECT: backend and project overrides
//   - DATABASE_URL, VAULTSWEEP_DATA_KEY: sql backend connection and data key
//   - AUDIT_DATABASE_URL: also persist audit events to Postgres
//   - VAULTSWEEP_LOG_LEVEL: log level (debug, info, warn, error)
package main
