package models

import "time"

// Member is one guild member's durable economy row: coin balance and total
// tracked presence time.
type Member struct {
	GuildID        int64     `db:"guildid"`
	MemberID       int64     `db:"memberid"`
	Coins          int64     `db:"coins"`
	TrackedSeconds int64     `db:"tracked_seconds"`
	DisplayName    string    `db:"display_name"`
	Timezone       string    `db:"timezone"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// PendingCredit is one batched ledger write-back: coins and tracked seconds
// accrued since the last flush for a member.
type PendingCredit struct {
	GuildID  int64
	MemberID int64
	Coins    int64
	Seconds  int64
}
