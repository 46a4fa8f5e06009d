// Package config provides centralized configuration management for the
// Sigha runtime: the JSON daemon config, typed sections for the crypto
// context, seal storage, fold-event queues and chain anchoring, plus
// defaulting rules applied at load time.
package config
