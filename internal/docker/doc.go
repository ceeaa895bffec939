// Package docker reports the TCP ports published by running Docker
// containers so the port scanner can treat them as occupied.
//
// A published port is not always visible to net.Listen: with the userland
// proxy disabled, Docker forwards it through iptables and a bind on the
// host succeeds even though traffic for that port never reaches it.
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
