// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dialect

import (
	"fmt"
)

// ScriptPlane is the opaque spending-condition tag attached to planned
// transactions. The planner and broadcaster pass it through verbatim; only
// the node-facing layer or downstream tooling gives it meaning.
type ScriptPlane struct {
	// ScriptType names the script family, e.g. "p2tr".
	ScriptType string `json:"script_type" yaml:"script_type"`

	// TaprootMode is an optional taproot spend mode label.
	TaprootMode string `json:"taproot_mode,omitempty" yaml:"taproot_mode,omitempty"`

	// BranchID is an optional non-negative script branch selector. A
	// value of -1 means unset.
	BranchID int `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`
}

// Equal reports whether two script-plane tags carry the same values. Two nil
// tags are equal; a nil tag never equals a non-nil one.
func (p *ScriptPlane) Equal(other *ScriptPlane) bool {
	if p == nil || other == nil {
		return p == other
	}

	return *p == *other
}

type rawScriptPlane struct {
	ScriptType  *string `yaml:"script_type"`
	TaprootMode *string `yaml:"taproot_mode"`
	BranchID    *int    `yaml:"branch_id"`
}

func (r rawScriptPlane) toScriptPlane() (*ScriptPlane, error) {
	if r.ScriptType == nil || *r.ScriptType == "" {
		return nil, fmt.Errorf("%w: script_plane.script_type must be "+
			"a non-empty string", ErrInvalidDialect)
	}

	plane := &ScriptPlane{
		ScriptType: *r.ScriptType,
		BranchID:   -1,
	}
	if r.TaprootMode != nil {
		plane.TaprootMode = *r.TaprootMode
	}
	if r.BranchID != nil {
		if *r.BranchID < 0 {
			return nil, fmt.Errorf("%w: script_plane.branch_id "+
				"must be non-negative", ErrInvalidDialect)
		}
		plane.BranchID = *r.BranchID
	}

	return plane, nil
}
