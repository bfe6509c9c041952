package models

import "github.com/google/uuid"

// ensureID assigns a v4 id when the database default is not available (sqlite).
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
