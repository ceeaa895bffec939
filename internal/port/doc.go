// Package port finds TCP ports that are free on every interface a
// development server will bind to.
//
// Two layers:
//
//   - Scanner (the probe) scans upward from a start port on one host,
//     testing each candidate with a transient net.Listen that is closed
//     immediately. No reservation is held.
//   - Resolver runs one Scanner probe per candidate host concurrently
//     ({requested host, "0.0.0.0", "127.0.0.1"} without duplicates) and only
//     accepts a port when every host reported the same number. Disagreement
//     starts a new round from the highest port reported, so the search base
//     only moves upward.
//
// A bind on the wildcard address can succeed while the same port is taken
// on loopback (and the other way around), which is why a single probe is not
// enough.
package port
