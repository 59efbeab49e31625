package domain

import "time"

// Message is an internal notification between people.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	Talkable    Metadata  `json:"talkable"`
	ExchangeID  int64     `json:"exchange_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Activity is an entry in a group's activity feed.
type Activity struct {
	ID        int64     `json:"id"`
	ItemType  string    `json:"item_type"`
	ItemID    int64     `json:"item_id"`
	PersonID  int64     `json:"person_id"`
	GroupID   int64     `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentNotice carries what a notifier needs to tell people about a
// committed exchange.
type PaymentNotice struct {
	Exchange     Exchange
	Group        Group
	Customer     Person
	Worker       Person
	MetadataName string
}

// MembershipNotice carries a membership event.
type MembershipNotice struct {
	Membership Membership
	Group      Group
	Person     Person
}
