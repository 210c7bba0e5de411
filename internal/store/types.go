package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

type DeliveryEvent struct {
	Provider      string
	ProviderMsgID string
	VendorStatus  string
	ErrorCode     string
	Payload       any
	OccurredAt    *time.Time
}

type DeliveryUpdate struct {
	Provider      string
	ProviderMsgID string
	Status        string
	ErrorCode     string
	Now           time.Time
}
