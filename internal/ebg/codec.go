package ebg

import (
	"encoding/json"
	"time"
)

// wireEnvelope is the JSON-on-the-wire shape, matching the indexer
// interface's "JSON object with unknown fields tolerated" convention
// (spec §6).
type wireEnvelope struct {
	MsgID   string `json:"msg_id"`
	Kind    string `json:"kind"`
	Sender  string `json:"sender"`
	Payload []byte `json:"payload"`
	TS      int64  `json:"ts"`
	TTL     int    `json:"ttl"`
	Seq     uint64 `json:"seq"`
}

func encode(env Envelope) []byte {
	w := wireEnvelope{
		MsgID:   env.MsgID,
		Kind:    string(env.Kind),
		Sender:  env.Sender,
		Payload: env.Payload,
		TS:      env.TS.UnixMilli(),
		TTL:     env.TTL,
		Seq:     env.Seq,
	}
	b, _ := json.Marshal(w)
	return b
}

func decode(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MsgID:   w.MsgID,
		Kind:    Kind(w.Kind),
		Sender:  w.Sender,
		Payload: w.Payload,
		TS:      time.UnixMilli(w.TS),
		TTL:     w.TTL,
		Seq:     w.Seq,
	}, nil
}
