// Package model defines domain entities shared by services and repositories.
package model

// Code is a single stored passcode row.
type Code struct {
	Text          string // lowercase-normalized passcode text, unique
	Seq           int64  // insertion sequence, assigned by the store
	FullyRedeemed bool   // exhausted, never served again
	Other         bool   // permanently skipped without being redeemed
}

// Servable reports whether the code is still eligible for delivery.
func (c Code) Servable() bool { return !c.FullyRedeemed && !c.Other }

// Cursor is a client's delivery position in the code store.
type Cursor struct {
	ClientID string // hashed client identifier
	LastSeq  int64  // highest sequence served to this client
}
