package pastry

import "golang.org/x/xerrors"

var (
	// ErrInvalidConfig is returned by New for out-of-range configuration.
	ErrInvalidConfig = xerrors.New("pastry: invalid configuration")
	// ErrEmptyNodeSet is returned by Build when given no nodes.
	ErrEmptyNodeSet = xerrors.New("pastry: build requires at least one node")
	// ErrDuplicateID is returned by Join when new_id is already live.
	ErrDuplicateID = xerrors.New("pastry: node id already live")
	// ErrUnknownNode is returned by Leave for a non-live node id.
	ErrUnknownNode = xerrors.New("pastry: unknown node id")
	// ErrEmptyOverlayForbidden is returned by Leave when it would empty the ring.
	ErrEmptyOverlayForbidden = xerrors.New("pastry: leave would empty the overlay")
	// ErrUnreachableOwner is returned when routing cannot resolve an owner.
	ErrUnreachableOwner = xerrors.New("pastry: unreachable owner")
)
