package entity

import "time"

// Supermarket is the chain a flyer belongs to. The pipeline only ever
// needs get-or-create by name; management is an API concern.
type Supermarket struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
