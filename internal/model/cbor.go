package model

import (
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodings mirror the JSON ones: a Log is an array of messages and a
// Timeline an array of events. Nested maps are encoded with sorted keys and
// decode as map[string]any, like their JSON counterparts.

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("model: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("model: CBOR decoder initialization failed: " + err.Error())
	}
}

func (l *Log) MarshalCBOR() ([]byte, error) {
	if l.messages == nil {
		return cborEnc.Marshal([]LogMessage{})
	}
	return cborEnc.Marshal(l.messages)
}

func (l *Log) UnmarshalCBOR(data []byte) error {
	var messages []LogMessage
	if err := cborDec.Unmarshal(data, &messages); err != nil {
		return err
	}
	l.messages = messages
	if l.now == nil {
		l.now = time.Now
	}
	return nil
}

func (t *Timeline) MarshalCBOR() ([]byte, error) {
	if t.events == nil {
		return cborEnc.Marshal([]*TimelineEvent{})
	}
	return cborEnc.Marshal(t.events)
}

func (t *Timeline) UnmarshalCBOR(data []byte) error {
	var events []*TimelineEvent
	if err := cborDec.Unmarshal(data, &events); err != nil {
		return err
	}
	for _, e := range events {
		e.timeline = t
	}
	t.events = events
	if t.now == nil {
		t.now = time.Now
	}
	return nil
}
