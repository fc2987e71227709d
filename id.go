package geoapi

import "github.com/vforwater/geoapi/id"

// ID is the primary identifier type for geoapi entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
