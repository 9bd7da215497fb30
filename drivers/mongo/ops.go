package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/where"
)

func indexModel(idx polystore.Index) mongo.IndexModel {
	keys := make(bson.D, len(idx.Fields))

	for i, f := range idx.Fields {
		dir := 1
		if f.Desc {
			dir = -1
		}

		keys[i] = bson.E{Key: f.Name, Value: dir}
	}

	model := mongo.IndexModel{Keys: keys}
	if idx.Unique {
		model.Options = options.Index().SetUnique(true)
	}

	return model
}

// resolveFilter normalizes the accepted filter forms to a physical bson.M:
// nil selects everything, strings go through the WHERE-clause translator,
// structural maps pass as given. Logical-key references become "_id".
func (d *Driver) resolveFilter(table string, filter any) (bson.M, error) {
	pk := d.primaryKey(table)

	switch f := filter.(type) {
	case nil:
		return bson.M{}, nil
	case string:
		if f == "" {
			return bson.M{}, nil
		}

		doc, err := where.ToFilter(f)
		if err != nil {
			return nil, err
		}

		return rewriteID(doc, pk), nil
	case bson.M:
		return rewriteID(f, pk), nil
	case map[string]any:
		return rewriteID(bson.M(f), pk), nil
	default:
		return nil, fmt.Errorf("mongo: unsupported filter type %T", filter)
	}
}

func (d *Driver) project(table string, rec polystore.Record, opts *polystore.WriteOptions) polystore.Record {
	if opts != nil && opts.Strict {
		if schema := d.schemaFor(table); schema != nil {
			return schema.Project(rec)
		}
	}

	return rec
}

func findOpts(opts *polystore.FindOptions) *options.FindOptions {
	fo := options.Find()
	if opts == nil {
		return fo
	}

	if len(opts.Sort) > 0 {
		sort := make(bson.D, len(opts.Sort))

		for i, s := range opts.Sort {
			dir := 1
			if s.Desc {
				dir = -1
			}

			sort[i] = bson.E{Key: s.Field, Value: dir}
		}

		fo.SetSort(sort)
	}

	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}

	if opts.Offset > 0 {
		fo.SetSkip(opts.Offset)
	}

	return fo
}

func (d *Driver) decodeCursor(ctx context.Context, cur *mongo.Cursor, pk string) ([]polystore.Record, error) {
	defer cur.Close(ctx)

	var out []polystore.Record

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}

		out = append(out, decodeRecord(doc, pk))
	}

	return out, cur.Err()
}

func (d *Driver) FindByID(ctx context.Context, table string, id any) (polystore.Record, error) {
	coll, err := d.collection("findById", table)
	if err != nil {
		return nil, err
	}

	pk := d.primaryKey(table)

	var doc bson.M

	err = coll.FindOne(ctx, bson.M{"_id": physicalID(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("mongo: findById %s: %w", table, err)
	}

	return decodeRecord(doc, pk), nil
}

func (d *Driver) FindMany(ctx context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	coll, err := d.collection("findMany", table)
	if err != nil {
		return nil, err
	}

	query, err := d.resolveFilter(table, filter)
	if err != nil {
		return nil, err
	}

	cur, err := coll.Find(ctx, query, findOpts(opts))
	if err != nil {
		return nil, fmt.Errorf("mongo: findMany %s: %w", table, err)
	}

	recs, err := d.decodeCursor(ctx, cur, d.primaryKey(table))
	if err != nil {
		return nil, fmt.Errorf("mongo: findMany %s: %w", table, err)
	}

	return recs, nil
}

func (d *Driver) InsertOne(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	coll, err := d.collection("insertOne", table)
	if err != nil {
		return nil, err
	}

	pk := d.primaryKey(table)
	doc := encodeRecord(d.project(table, rec, opts), pk)

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("mongo: insertOne %s: %w", table, err)
	}

	id := logicalID(res.InsertedID)

	if opts != nil && opts.ReturnFull {
		return d.FindByID(ctx, table, id)
	}

	return polystore.Record{pk: id}, nil
}

func (d *Driver) InsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		saved, err := d.InsertOne(ctx, table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = saved
	}

	return out, nil
}

func (d *Driver) UpdateOne(ctx context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	coll, err := d.collection("updateOne", table)
	if err != nil {
		return nil, err
	}

	pk := d.primaryKey(table)

	changes = copyWithout(d.project(table, changes, opts), pk)
	if len(changes) == 0 {
		return d.FindByID(ctx, table, id)
	}

	res, err := coll.UpdateByID(ctx, physicalID(id), bson.M{"$set": bson.M(changes)})
	if err != nil {
		return nil, fmt.Errorf("mongo: updateOne %s: %w", table, err)
	}

	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("mongo: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	if opts != nil && opts.ReturnFull {
		return d.FindByID(ctx, table, id)
	}

	return polystore.Record{pk: id}, nil
}

func (d *Driver) UpdateMany(ctx context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	coll, err := d.collection("updateMany", table)
	if err != nil {
		return 0, err
	}

	pk := d.primaryKey(table)

	changes = copyWithout(changes, pk)
	if len(changes) == 0 {
		return 0, nil
	}

	query, err := d.resolveFilter(table, filter)
	if err != nil {
		return 0, err
	}

	res, err := coll.UpdateMany(ctx, query, bson.M{"$set": bson.M(changes)})
	if err != nil {
		return 0, fmt.Errorf("mongo: updateMany %s: %w", table, err)
	}

	return res.ModifiedCount, nil
}

// Upsert with a primary-key value is a native upsert on "_id"; without one
// it is a plain insert, leaving key generation to the backend.
func (d *Driver) Upsert(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	coll, err := d.collection("upsert", table)
	if err != nil {
		return nil, err
	}

	pk := d.primaryKey(table)

	id, ok := rec[pk]
	if !ok || id == nil {
		return d.InsertOne(ctx, table, rec, opts)
	}

	changes := copyWithout(d.project(table, rec, opts), pk)

	_, err = coll.UpdateByID(ctx, physicalID(id), bson.M{"$set": bson.M(changes)},
		options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("mongo: upsert %s: %w", table, err)
	}

	if opts != nil && opts.ReturnFull {
		return d.FindByID(ctx, table, id)
	}

	return polystore.Record{pk: id}, nil
}

func (d *Driver) UpsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		saved, err := d.Upsert(ctx, table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = saved
	}

	return out, nil
}

func (d *Driver) DeleteOne(ctx context.Context, table string, id any) error {
	coll, err := d.collection("deleteOne", table)
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": physicalID(id)})
	if err != nil {
		return fmt.Errorf("mongo: deleteOne %s: %w", table, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("mongo: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	return nil
}

func (d *Driver) DeleteMany(ctx context.Context, table string, filter any) (int64, error) {
	coll, err := d.collection("deleteMany", table)
	if err != nil {
		return 0, err
	}

	query, err := d.resolveFilter(table, filter)
	if err != nil {
		return 0, err
	}

	res, err := coll.DeleteMany(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mongo: deleteMany %s: %w", table, err)
	}

	return res.DeletedCount, nil
}

func (d *Driver) Count(ctx context.Context, table string, filter any) (int64, error) {
	coll, err := d.collection("count", table)
	if err != nil {
		return 0, err
	}

	query, err := d.resolveFilter(table, filter)
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mongo: count %s: %w", table, err)
	}

	return n, nil
}

func (d *Driver) Exists(ctx context.Context, table string, filter any) (bool, error) {
	recs, err := d.FindMany(ctx, table, filter, &polystore.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}

	return len(recs) > 0, nil
}

// Aggregate accepts native pipelines: bson.A, []any, or []bson.M stages.
func (d *Driver) Aggregate(ctx context.Context, table string, pipeline any) ([]polystore.Record, error) {
	coll, err := d.collection("aggregate", table)
	if err != nil {
		return nil, err
	}

	stages, err := asPipeline(pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo: aggregate %s: %w", table, err)
	}

	cur, err := coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("mongo: aggregate %s: %w", table, err)
	}

	recs, err := d.decodeCursor(ctx, cur, d.primaryKey(table))
	if err != nil {
		return nil, fmt.Errorf("mongo: aggregate %s: %w", table, err)
	}

	return recs, nil
}

func asPipeline(pipeline any) (mongo.Pipeline, error) {
	switch p := pipeline.(type) {
	case mongo.Pipeline:
		return p, nil
	case bson.A:
		return stagesFrom(p)
	case []any:
		return stagesFrom(p)
	case []bson.M:
		out := make(mongo.Pipeline, len(p))
		for i, stage := range p {
			out[i] = toStage(stage)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("pipeline must be a list of stages, got %T", pipeline)
	}
}

func stagesFrom[T any](list []T) (mongo.Pipeline, error) {
	out := make(mongo.Pipeline, len(list))

	for i, item := range list {
		switch stage := any(item).(type) {
		case bson.D:
			out[i] = stage
		case bson.M:
			out[i] = toStage(stage)
		case map[string]any:
			out[i] = toStage(bson.M(stage))
		default:
			return nil, fmt.Errorf("unsupported pipeline stage type %T", item)
		}
	}

	return out, nil
}

func toStage(m bson.M) bson.D {
	stage := make(bson.D, 0, len(m))

	for k, v := range m {
		stage = append(stage, bson.E{Key: k, Value: v})
	}

	return stage
}

// Query runs a raw database command given as extended JSON. Positional
// arguments are not supported by the command interface and are rejected.
func (d *Driver) Query(ctx context.Context, raw string, args ...any) ([]polystore.Record, error) {
	if len(args) > 0 {
		return nil, errors.New("mongo: query: positional args are not supported, inline values in the command document")
	}

	d.mu.Lock()
	db := d.db
	d.mu.Unlock()

	if db == nil {
		return nil, fmt.Errorf("mongo: query: %w", polystore.ErrNotConnected)
	}

	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), true, &cmd); err != nil {
		return nil, fmt.Errorf("mongo: query: %w", err)
	}

	var result bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&result); err != nil {
		return nil, fmt.Errorf("mongo: query: %w", err)
	}

	return []polystore.Record{polystore.Record(result)}, nil
}

func copyWithout(rec polystore.Record, skip string) polystore.Record {
	out := make(polystore.Record, len(rec))

	for k, v := range rec {
		if k == skip {
			continue
		}

		out[k] = v
	}

	return out
}

// Tx session methods bind the caller's context to the explicit session
// (when one exists) and delegate to the driver.

func (t *Tx) FindByID(ctx context.Context, table string, id any) (polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.FindByID(ctx, table, id)
}

func (t *Tx) FindMany(ctx context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.FindMany(ctx, table, filter, opts)
}

func (t *Tx) InsertOne(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.InsertOne(ctx, table, rec, opts)
}

func (t *Tx) InsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.InsertMany(ctx, table, recs, opts)
}

func (t *Tx) UpdateOne(ctx context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.UpdateOne(ctx, table, id, changes, opts)
}

func (t *Tx) UpdateMany(ctx context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return 0, err
	}

	return t.d.UpdateMany(ctx, table, filter, changes)
}

func (t *Tx) Upsert(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.Upsert(ctx, table, rec, opts)
}

func (t *Tx) UpsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.UpsertMany(ctx, table, recs, opts)
}

func (t *Tx) DeleteOne(ctx context.Context, table string, id any) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}

	return t.d.DeleteOne(ctx, table, id)
}

func (t *Tx) DeleteMany(ctx context.Context, table string, filter any) (int64, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return 0, err
	}

	return t.d.DeleteMany(ctx, table, filter)
}

func (t *Tx) Count(ctx context.Context, table string, filter any) (int64, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return 0, err
	}

	return t.d.Count(ctx, table, filter)
}

func (t *Tx) Exists(ctx context.Context, table string, filter any) (bool, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return false, err
	}

	return t.d.Exists(ctx, table, filter)
}

func (t *Tx) Aggregate(ctx context.Context, table string, pipeline any) ([]polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.Aggregate(ctx, table, pipeline)
}

func (t *Tx) Query(ctx context.Context, raw string, args ...any) ([]polystore.Record, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	return t.d.Query(ctx, raw, args...)
}
