// Package config loads and validates the daemon configuration.
//
// Settings come from three layers, lowest precedence first: compiled
// defaults, an optional YAML file, and HUTCH_-prefixed environment
// variables. The file is taken from HUTCH_CONFIG when set, otherwise
// searched for as config.yaml under /etc/hutch and $HOME/.hutch; a
// missing file is not an error.
//
// Validate rejects combinations the daemon cannot start with rather
// than letting them surface later as runtime failures: an empty pool
// ceiling, out-of-range ports, a bucketed proxy mode without a bucket
// range, or no key material at all. A pool floor of zero is valid and
// means the maintenance loop keeps no warm containers.
package config
