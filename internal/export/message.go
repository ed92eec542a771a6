// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the wire form of an exported event.
type Message struct {
	Queue   string    `json:"queue"`
	ID      int64     `json:"id"`
	BatchID int64     `json:"batch_id"`
	Time    time.Time `json:"time"`
	TxID    int64     `json:"txid"`
	Retry   int       `json:"retry,omitempty"`
	Type    string    `json:"type"`
	Data    string    `json:"data"`
	Extra1  *string   `json:"extra1,omitempty"`
	Extra2  *string   `json:"extra2,omitempty"`
	Extra3  *string   `json:"extra3,omitempty"`
	Extra4  *string   `json:"extra4,omitempty"`
}

// NewMessage returns the message for ev, read from queueName.
func NewMessage(queueName string, ev *queue.Event) Message {
	return Message{
		Queue:   queueName,
		ID:      ev.ID,
		BatchID: ev.BatchID,
		Time:    ev.Time,
		TxID:    ev.TxID,
		Retry:   ev.Retry,
		Type:    ev.Type,
		Data:    ev.Data,
		Extra1:  ev.Extra1,
		Extra2:  ev.Extra2,
		Extra3:  ev.Extra3,
		Extra4:  ev.Extra4,
	}
}

// Encode returns the JSON encoding of m.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Annotatef(err, "encoding event %d", m.ID)
}

// DecodeMessage parses a message produced by Encode.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, errors.Annotate(err, "decoding message")
	}
	return m, nil
}
