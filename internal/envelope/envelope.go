// Package envelope builds the on-the-wire egress payload: a source
// document (or, for deletes, its document key) plus three metadata
// fields. See spec §4.7 for the mapping and collision rules.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source identifies which phase produced an envelope.
type Source string

const (
	SourceInitialLoad  Source = "initial_load"
	SourceChangeStream Source = "change_stream"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Metadata is the set of fields every envelope carries, in addition to
// the document payload.
type Metadata struct {
	// Operation must already be sanitized by the caller (changefeed's
	// classify step, or the literal "read" for snapshot records) — the
	// codec does not re-validate it against the whitelist.
	Operation string
	Source    Source
	Timestamp time.Time
}

// Build combines doc with meta into the egress JSON envelope. doc's keys
// are copied, then _operation/_source/_timestamp are written over
// whatever may already be present under those names — metadata always
// wins (spec §4.7 collision rule, and the idempotent-envelope-building
// law: Build(Build(d)) == Build(d) for identical meta).
//
// doc is rendered with the driver's relaxed Extended JSON mode: strings,
// booleans, int32/int64 and doubles appear as plain JSON values, while
// other BSON types keep their Extended JSON wrappers — an ObjectID as
// {"$oid": "<hex>"}, a date as {"$date": ...}, binary data as
// {"$binary": ...} in base64, a decimal as {"$numberDecimal": "..."}.
// Build does not unwrap these into bare strings.
func Build(doc bson.M, meta Metadata) (json.RawMessage, error) {
	out := make(bson.M, len(doc)+3)
	for k, v := range doc {
		out[k] = v
	}
	out["_operation"] = meta.Operation
	out["_source"] = string(meta.Source)
	out["_timestamp"] = meta.Timestamp.UTC().Format(timestampLayout)

	raw, err := bson.MarshalExtJSON(out, false, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Key derives the egress record's partition key from a document: the
// stringified "vuid" field if present, else the stringified "_id" field,
// else the literal "null" (spec §4.4).
func Key(doc bson.M) string {
	if v, ok := doc["vuid"]; ok && v != nil {
		return Stringify(v)
	}
	if v, ok := doc["_id"]; ok && v != nil {
		return Stringify(v)
	}
	return "null"
}

// Stringify renders an arbitrary BSON scalar or binary value as a plain
// string: strings as-is, primitive.ObjectID as its bare hex, other
// fmt.Stringer values via String(), and anything else through relaxed
// Extended JSON — a JSON string or number comes back as its bare text
// (int32(42) gives "42"), while a type that Extended JSON wraps (binary
// data, for instance) comes back as the wrapper's JSON text. An ObjectID
// key is therefore bare hex although the envelope body carries the same
// ObjectID as {"$oid": "<hex>"}.
//
// primitive.ObjectID is special-cased ahead of the generic fmt.Stringer
// branch: its String() method renders `ObjectID("<hex>")`, not the plain
// hex identifier, which would corrupt both the partition key (spec §6)
// and the legacy-marker substring check if left to fall through.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case fmt.Stringer:
		return t.String()
	default:
		b, err := bson.MarshalExtJSON(bson.M{"v": v}, false, false)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var decoded struct {
			V json.RawMessage `json:"v"`
		}
		if err := json.Unmarshal(b, &decoded); err != nil {
			return fmt.Sprintf("%v", v)
		}
		var trimmed string
		if err := json.Unmarshal(decoded.V, &trimmed); err == nil {
			return trimmed
		}
		return string(decoded.V)
	}
}
