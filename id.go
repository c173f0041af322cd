package rainmaker

import "github.com/victorbash400/rainmaker/id"

// ID is the primary identifier type for all Rainmaker entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
