// Package deckbridge moves files between a PC and a Steam Deck (or any
// embedded Linux device running an SSH server) over SFTP.
//
// # Overview
//
// The package has three engines behind one facade:
//
//   - discovery finds candidate devices on the local network, via the
//     well-known device name, an mDNS browse, and a bounded subnet scan
//     of the SSH port.
//   - connection owns the single secure channel: state machine,
//     keepalive, and bounded automatic reconnection with exponential
//     backoff.
//   - transfer runs the resumable FIFO job queue. Partial transfers
//     land in a temporary file and resume from its size; destinations
//     are published by a single rename, so they only ever hold
//     complete content.
//
// Everything observable streams through one event channel, so a UI
// layer can drive itself from Events alone.
//
// # Example
//
//	bridge, err := deckbridge.New(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer bridge.Close()
//
//	go func() {
//		for ev := range bridge.Events() {
//			switch ev := ev.(type) {
//			case event.DeviceFound:
//				fmt.Printf("found %s at %s\n", ev.Host, ev.Address)
//			case event.JobProgress:
//				fmt.Printf("%d/%d bytes\n", ev.BytesTransferred, ev.TotalBytes)
//			}
//		}
//	}()
//
//	if err := bridge.StartDiscovery(); err != nil {
//		log.Fatal(err)
//	}
package deckbridge
