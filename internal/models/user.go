package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Username  string    `bun:"username,notnull" json:"username"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Points    int64     `bun:"points,notnull" json:"points"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// UserCoupon is consumed at most once; IsRedeem never flips back.
type UserCoupon struct {
	bun.BaseModel `bun:"table:user_coupons,alias:uc"`

	ID       int64 `bun:"id,pk,autoincrement" json:"id"`
	UserID   int64 `bun:"user_id,notnull" json:"userId"`
	IsRedeem bool  `bun:"is_redeem,notnull" json:"isRedeem"`
}
