package domain

import "context"

// SMSSender delivers a text message to one phone number.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}
