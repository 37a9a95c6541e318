// Package config loads truetime settings through viper.
//
// Settings come from, in increasing precedence: built-in defaults, the
// config file and values set by command-line flags. The config file
// defaults to $HOME/.go-truetime/config.yaml and is written out with the
// defaults on first use; --config points at another file, which must exist.
//
// The same directory holds runtime state: the persisted offset sample
// (offset.yaml) and the boot marker used by the event watcher
// (boot.yaml).
package config
