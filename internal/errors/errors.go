// Package errors provides error handling for amd.
//
// It re-exports github.com/cockroachdb/errors and adds a small closed set of
// outcome kinds so that job failures can be classified by cause instead of by
// message text:
//
//	err := errors.Mark(errors.Wrap(err, "fetch roster"), errors.KindNetwork)
//	switch errors.KindOf(err) {
//	case errors.KindNetwork:
//	    // transient, the next tick will try again
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
	WithHint     = crdb.WithHint
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	CombineErrors  = crdb.CombineErrors
	FlattenDetails = crdb.FlattenDetails
	GetAllHints    = crdb.GetAllHints
)
