// Package v1 implements the V1 Query Handlers (spec.md §4.7): tools whose
// answers come entirely from the Store, with no round-trip to a live agent
// connection. Every handler returns the tool-specific fields to merge into
// the uniform response envelope (internal/tools/common.Envelope); input
// validation errors are returned as *common.ValidationError so the Tool
// Runtime can map them onto the typed tool-input-validation error kind.
package v1

import (
	"github.com/basinlabs/browserbridge/internal/redaction"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
)

// Deps bundles the V1 handlers' dependencies.
type Deps struct {
	Store    *store.Store
	Sessions *session.Registry
	Redactor *redaction.Redactor
}

func New(s *store.Store, reg *session.Registry, r *redaction.Redactor) *Deps {
	return &Deps{Store: s, Sessions: reg, Redactor: r}
}
