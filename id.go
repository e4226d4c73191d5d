package relayq

import "github.com/lumenlabs/relayq/id"

// ID is the primary identifier type for all relayq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
