package models

import "github.com/uptrace/bun"

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	EventID  int64  `bun:"event_id,notnull" json:"eventId"`
	Category string `bun:"category,notnull" json:"category"`
	Price    int64  `bun:"price,notnull" json:"price"`
	Quantity int64  `bun:"quantity,notnull" json:"quantity"`
}
