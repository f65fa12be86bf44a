package localindex

import "golang.org/x/xerrors"

// ErrInvalidBranchingFactor is returned by New when t < 3, per spec.md §6 (t >= 3).
var ErrInvalidBranchingFactor = xerrors.New("localindex: branching factor must be >= 3")
