// Package discovery finds devices reachable on the transfer protocol's
// port on the local network.
//
// A discovery run combines three concurrent paths:
//
//   - a direct probe of the well-known device name (steamdeck.local)
//   - an mDNS browse for the SFTP service
//   - a parallel TCP scan of the local /24 subnet, bounded to 50
//     probes in flight
//
// Results are emitted incrementally through callbacks as they arrive,
// de-duplicated by address within the run; mDNS-sourced results take
// precedence over scan-sourced ones. Only the configured protocol port
// is ever probed.
//
// Example:
//
//	engine := discovery.New(discovery.Config{})
//	engine.OnDeviceFound(func(d discovery.Device) {
//	    fmt.Printf("%s (%s) %v\n", d.Host, d.Address, d.ResponseTime)
//	})
//	engine.OnComplete(func(found int) { fmt.Printf("done: %d\n", found) })
//	engine.Start(ctx)
package discovery
