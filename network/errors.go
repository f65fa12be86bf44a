package network

import "golang.org/x/xerrors"

// ErrUnknownPeer is returned by Send when the destination id has no
// registered endpoint, per spec.md §4.3/§7.
var ErrUnknownPeer = xerrors.New("network: unknown peer")
