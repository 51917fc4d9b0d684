package store

import (
	"time"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// IdentityRecord holds this installation's persistent identity. There is at most one row.
type IdentityRecord struct {
	Slot         int `gorm:"primaryKey;autoIncrement:false"`
	PersistentID string
	DisplayName  string
	PubKey       string
	PrivKey      string
	CreatedAt    time.Time
}

type Friend struct {
	PersistentID      string    `gorm:"primaryKey" json:"persistent_id"`
	DisplayName       string    `json:"display_name"`
	LastKnownEndpoint string    `json:"last_known_endpoint"`
	LastSeen          time.Time `json:"last_seen"`
	PubKey            string    `json:"pub_key,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// PendingRequest is a friendship request awaiting a decision, one per persistent id.
type PendingRequest struct {
	PersistentID string    `gorm:"primaryKey" json:"persistent_id"`
	DisplayName  string    `json:"display_name"`
	EndpointID   string    `json:"endpoint_id"`
	Timestamp    time.Time `json:"timestamp"`
	Direction    Direction `json:"direction"`
	PubKey       string    `json:"pub_key,omitempty"`
}

type MessageKind string

const (
	KindBroadcast MessageKind = "broadcast"
	KindDirect    MessageKind = "direct"
)

type Message struct {
	ID         string      `gorm:"primaryKey" json:"id"`
	Kind       MessageKind `json:"kind"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	TargetID   string      `json:"target_id,omitempty"`
	Endpoint   string      `json:"endpoint,omitempty"`
	Content    string      `json:"content"`
	Timestamp  int64       `gorm:"index" json:"timestamp"`
	Direction  Direction   `json:"direction"`
	Encrypted  bool        `json:"encrypted"`
}
