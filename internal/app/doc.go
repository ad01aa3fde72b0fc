// Package app wires the fleetlink components from a loaded configuration
// and runs them until the context is canceled.
package app
