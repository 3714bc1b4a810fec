package granter

import "github.com/xraph/granter/id"

// ID is the primary identifier type for all granter entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
