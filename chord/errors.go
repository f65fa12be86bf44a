package chord

import "golang.org/x/xerrors"

var (
	// ErrInvalidConfig is returned by New for out-of-range configuration.
	ErrInvalidConfig = xerrors.New("chord: invalid configuration")
	// ErrEmptyNodeSet is returned by Build when given no nodes.
	ErrEmptyNodeSet = xerrors.New("chord: build requires at least one node")
	// ErrDuplicateID is returned by Join when new_id is already live.
	ErrDuplicateID = xerrors.New("chord: node id already live")
	// ErrUnknownNode is returned by Leave for a non-live node id.
	ErrUnknownNode = xerrors.New("chord: unknown node id")
	// ErrEmptyOverlayForbidden is returned by Leave when it would empty the ring.
	ErrEmptyOverlayForbidden = xerrors.New("chord: leave would empty the overlay")
	// ErrUnreachableOwner is returned when routing cannot resolve an owner.
	ErrUnreachableOwner = xerrors.New("chord: unreachable owner")
)
