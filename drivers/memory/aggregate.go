package memory

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/miketerry-org/polystore"
)

// aggregate runs a document-style pipeline over one table. Supported
// stages: $match, $sort, $skip, $limit, $count.
func (s store) aggregate(table string, pipeline any) ([]polystore.Record, error) {
	stages, err := asStages(pipeline)
	if err != nil {
		return nil, err
	}

	recs, err := s.findMany(table, nil, nil)
	if err != nil {
		return nil, err
	}

	for _, stage := range stages {
		if len(stage) != 1 {
			return nil, fmt.Errorf("memory: aggregate: stage must have exactly one operator, got %d", len(stage))
		}

		for op, arg := range stage {
			recs, err = applyStage(recs, op, arg, s.primaryKey(table))
			if err != nil {
				return nil, err
			}
		}
	}

	return recs, nil
}

func asStages(pipeline any) ([]bson.M, error) {
	toStage := func(v any) (bson.M, error) {
		switch m := v.(type) {
		case bson.M:
			return m, nil
		case map[string]any:
			return bson.M(m), nil
		default:
			return nil, fmt.Errorf("memory: aggregate: unsupported stage type %T", v)
		}
	}

	var raw []any

	switch p := pipeline.(type) {
	case nil:
		return nil, nil
	case bson.A:
		raw = p
	case []any:
		raw = p
	case []bson.M:
		out := make([]bson.M, len(p))
		copy(out, p)

		return out, nil
	default:
		return nil, fmt.Errorf("memory: aggregate: unsupported pipeline type %T", pipeline)
	}

	out := make([]bson.M, len(raw))

	for i, v := range raw {
		stage, err := toStage(v)
		if err != nil {
			return nil, err
		}

		out[i] = stage
	}

	return out, nil
}

func applyStage(recs []polystore.Record, op string, arg any, pk string) ([]polystore.Record, error) {
	switch op {
	case "$match":
		filter, err := asFilter(arg)
		if err != nil {
			return nil, err
		}

		var out []polystore.Record

		for _, rec := range recs {
			if match(rec, filter) {
				out = append(out, rec)
			}
		}

		return out, nil

	case "$sort":
		opts := &polystore.FindOptions{}

		// bson.D keeps key order, so it is the only spec form that can
		// express a multi-key sort. Maps are accepted for one key only.
		if spec, ok := arg.(bson.D); ok {
			for _, e := range spec {
				d, _ := toFloat64(e.Value)
				opts.Sort = append(opts.Sort, polystore.SortField{Field: e.Key, Desc: d < 0})
			}
		} else {
			spec, err := asFilter(arg)
			if err != nil {
				return nil, err
			}

			if len(spec) > 1 {
				return nil, fmt.Errorf("memory: aggregate: $sort over %d map keys has no defined order, use bson.D", len(spec))
			}

			for field, dir := range spec {
				d, _ := toFloat64(dir)
				opts.Sort = append(opts.Sort, polystore.SortField{Field: field, Desc: d < 0})
			}
		}

		sortRecords(recs, opts, pk)

		return recs, nil

	case "$skip":
		n, ok := toFloat64(arg)
		if !ok {
			return nil, fmt.Errorf("memory: aggregate: $skip wants a number, got %T", arg)
		}

		if int(n) >= len(recs) {
			return nil, nil
		}

		return recs[int(n):], nil

	case "$limit":
		n, ok := toFloat64(arg)
		if !ok {
			return nil, fmt.Errorf("memory: aggregate: $limit wants a number, got %T", arg)
		}

		if int(n) < len(recs) {
			return recs[:int(n)], nil
		}

		return recs, nil

	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("memory: aggregate: $count wants a field name, got %T", arg)
		}

		return []polystore.Record{{name: int64(len(recs))}}, nil

	default:
		return nil, fmt.Errorf("memory: aggregate: unsupported stage %q", op)
	}
}

func asFilter(v any) (bson.M, error) {
	switch m := v.(type) {
	case bson.M:
		return m, nil
	case map[string]any:
		return bson.M(m), nil
	default:
		return nil, fmt.Errorf("memory: aggregate: unsupported stage argument %T", v)
	}
}
