// Package commands defines the duplex CLI.
//
// Commands
//
//   - keygen  Generate an X25519 key pair for the session handshake
//   - demo    Run both ends of a session in process
//   - bench   Measure data-channel throughput
//
// # Implementation
//
// The root command loads .env, the optional YAML config file and DUPLEX_*
// environment overrides before any subcommand runs, then builds the shared
// logrus logger at the configured level. Subcommands drive the initiator and
// responder of a session inside one process, exchanging wire bytes directly.
package commands
