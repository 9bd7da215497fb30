package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miketerry-org/polystore"
)

// The document backend stores the primary key as the native "_id". These
// helpers own the logical/physical translation at every boundary crossing:
// writes move the logical key into "_id", reads expose the logical key
// alongside the native one, and filters accept either representation.

// physicalID converts a logical key value to its physical form: a 24-hex
// string becomes an ObjectID, anything else is used as the _id verbatim.
func physicalID(id any) any {
	if s, ok := id.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}

	return id
}

// logicalID converts a physical _id to its logical form.
func logicalID(id any) any {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}

	return id
}

// encodeRecord prepares a logical record for storage: the primary-key
// field, when present, moves into "_id".
func encodeRecord(rec polystore.Record, pk string) bson.M {
	doc := make(bson.M, len(rec))

	for k, v := range rec {
		if k == pk {
			doc["_id"] = physicalID(v)

			continue
		}

		doc[k] = v
	}

	return doc
}

// decodeRecord normalizes a stored document: the logical key is exposed
// under the schema's field name, with the native "_id" kept alongside.
func decodeRecord(doc bson.M, pk string) polystore.Record {
	rec := make(polystore.Record, len(doc)+1)

	for k, v := range doc {
		rec[k] = v
	}

	if nativeID, ok := doc["_id"]; ok {
		rec[pk] = logicalID(nativeID)
	}

	return rec
}

// rewriteID rewrites logical-key references in a filter to the physical
// "_id", recursing through the logical combinators.
func rewriteID(filter bson.M, pk string) bson.M {
	out := make(bson.M, len(filter))

	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			out[key] = rewriteIDList(cond, pk)
		case pk:
			out["_id"] = rewriteIDCond(cond)
		default:
			out[key] = cond
		}
	}

	return out
}

func rewriteIDList(cond any, pk string) any {
	list, ok := cond.(bson.A)
	if !ok {
		if raw, isSlice := cond.([]any); isSlice {
			list = bson.A(raw)
		} else {
			return cond
		}
	}

	out := make(bson.A, len(list))

	for i, item := range list {
		switch m := item.(type) {
		case bson.M:
			out[i] = rewriteID(m, pk)
		case map[string]any:
			out[i] = rewriteID(bson.M(m), pk)
		default:
			out[i] = item
		}
	}

	return out
}

func rewriteIDCond(cond any) any {
	ops, ok := cond.(bson.M)
	if !ok {
		if m, isMap := cond.(map[string]any); isMap {
			ops = bson.M(m)
		} else {
			// Direct equality against the logical key.
			return physicalID(cond)
		}
	}

	out := make(bson.M, len(ops))

	for op, operand := range ops {
		switch op {
		case "$in", "$nin":
			if list, isList := operand.(bson.A); isList {
				converted := make(bson.A, len(list))
				for i, v := range list {
					converted[i] = physicalID(v)
				}

				out[op] = converted

				continue
			}

			out[op] = operand
		default:
			out[op] = physicalID(operand)
		}
	}

	return out
}
