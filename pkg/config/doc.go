// Package config loads the vaultsweep configuration document.
//
// The document is read once per run and resolved into an immutable Config
// that is passed explicitly to every component.
//
// # Configuration Sources
//
// Values are resolved in this order, later sources winning:
//
//   - Built-in defaults
//   - The first rule of the config file (YAML or JSON)
//   - Environment variables
//
// # Environment Variables
//
//   - VAULTSWEEP_CONFIG: Config file path
//   - VAULTSWEEP_BACKEND: Store backend (hashicorp, cli, sql, memory)
//   - VAULT_ADDR: Store address
//   - VAULT_TOKEN: Store token, used when the token file is absent
//   - VAULTSWEEP_MOUNT_PATH, VAULTSWEEP_BASE_PATH, VAULTSWEEP_PROJECT
//   - VAULTSWEEP_WORKERS: Scanner worker count
//   - DATABASE_URL: Connection string for the sql backend
//   - VAULTSWEEP_DATA_KEY: Base64 data key for the sql backend
package config
