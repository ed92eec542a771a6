// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/internal/database"
)

// ResultError is a pgq_node failure reported through (ret_code, ret_note)
// rather than as an SQL error.
type ResultError struct {
	Func string
	Code int
	Note string
}

// Error is part of the error interface.
func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Func, e.Code, e.Note)
}

// checkResult turns a pgq_node return code into an error. Codes below 300
// are success; 404 is reported as not found.
func checkResult(fn string, code int32, note string) error {
	if code < 300 {
		return nil
	}
	err := &ResultError{Func: fn, Code: int(code), Note: note}
	if code == 404 {
		return errors.NewNotFound(err, "")
	}
	return err
}

// callNode runs a pgq_node function that returns only (ret_code, ret_note).
func callNode(ctx context.Context, db database.DBTX, fn string, args ...any) error {
	placeholders := ""
	for i := range args {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}
	var (
		code int32
		note pgtype.Text
	)
	err := db.QueryRow(ctx,
		`SELECT ret_code, ret_note FROM pgq_node.`+fn+`(`+placeholders+`)`, args...,
	).Scan(&code, &note)
	if err != nil {
		return errors.Annotatef(err, "calling pgq_node.%s", fn)
	}
	return checkResult("pgq_node."+fn, code, note.String)
}

// GetNodeInfo reads the cascade state of the local node for queueName.
func GetNodeInfo(ctx context.Context, db database.DBTX, queueName string) (cascade.NodeInfo, error) {
	var (
		code                              int32
		note, nodeType, nodeName          pgtype.Text
		providerNode, providerLoc, worker pgtype.Text
		globalWatermark, localWatermark   pgtype.Int8
	)
	err := db.QueryRow(ctx, `
SELECT ret_code, ret_note, node_type, node_name, global_watermark, local_watermark,
       provider_node, provider_location, worker_name
FROM pgq_node.get_node_info($1)`, queueName).Scan(
		&code, &note, &nodeType, &nodeName, &globalWatermark, &localWatermark,
		&providerNode, &providerLoc, &worker,
	)
	if err != nil {
		return cascade.NodeInfo{}, errors.Annotatef(err, "reading node info for %q", queueName)
	}
	if err := checkResult("pgq_node.get_node_info", code, note.String); err != nil {
		return cascade.NodeInfo{}, errors.Trace(err)
	}
	role, err := cascade.ParseNodeRole(nodeType.String)
	if err != nil {
		return cascade.NodeInfo{}, errors.Trace(err)
	}
	return cascade.NodeInfo{
		QueueName:        queueName,
		NodeName:         nodeName.String,
		Role:             role,
		ProviderNode:     providerNode.String,
		ProviderLocation: providerLoc.String,
		WorkerName:       worker.String,
		LocalWatermark:   localWatermark.Int64,
		GlobalWatermark:  globalWatermark.Int64,
	}, nil
}

// GetConsumerState reads the state of a cascade worker on its local node.
func GetConsumerState(ctx context.Context, db database.DBTX, queueName, consumer string) (cascade.ConsumerState, error) {
	var (
		code                                int32
		note, nodeType, nodeName            pgtype.Text
		providerNode, providerLoc, curError pgtype.Text
		pendingNode, pendingLoc             pgtype.Text
		completed, waitTick, syncTick       pgtype.Int8
		paused, uptodate                    pgtype.Bool
	)
	err := db.QueryRow(ctx, `
SELECT ret_code, ret_note, node_type, node_name, completed_tick,
       provider_node, provider_location, paused, uptodate, cur_error,
       pending_provider, pending_location, wait_tick, sync_tick
FROM pgq_node.get_consumer_state($1, $2)`, queueName, consumer).Scan(
		&code, &note, &nodeType, &nodeName, &completed,
		&providerNode, &providerLoc, &paused, &uptodate, &curError,
		&pendingNode, &pendingLoc, &waitTick, &syncTick,
	)
	if err != nil {
		return cascade.ConsumerState{}, errors.Annotatef(err, "reading state of %q on %q", consumer, queueName)
	}
	if err := checkResult("pgq_node.get_consumer_state", code, note.String); err != nil {
		return cascade.ConsumerState{}, errors.Trace(err)
	}
	role, err := cascade.ParseNodeRole(nodeType.String)
	if err != nil {
		return cascade.ConsumerState{}, errors.Trace(err)
	}
	state := cascade.ConsumerState{
		NodeName:                nodeName.String,
		Role:                    role,
		ProviderNode:            providerNode.String,
		ProviderLocation:        providerLoc.String,
		Paused:                  paused.Bool,
		Uptodate:                uptodate.Bool,
		CompletedTick:           completed.Int64,
		PendingProvider:         pendingNode.String,
		PendingProviderLocation: pendingLoc.String,
		WaitTick:                waitTick.Int64,
		SyncTick:                syncTick.Int64,
		LastError:               curError.String,
	}
	return state, nil
}

// RegisterSubscriber subscribes the worker of node on the provider's queue,
// positioned at tickID. It returns the provider's global watermark.
func RegisterSubscriber(ctx context.Context, db database.DBTX, queueName, node, worker string, tickID int64) (int64, error) {
	var (
		code      int32
		note      pgtype.Text
		watermark pgtype.Int8
	)
	err := db.QueryRow(ctx, `
SELECT ret_code, ret_note, global_watermark
FROM pgq_node.register_subscriber($1, $2, $3, $4)`, queueName, node, worker, tickID).Scan(&code, &note, &watermark)
	if err != nil {
		return 0, errors.Annotatef(err, "registering %q on %q", node, queueName)
	}
	if err := checkResult("pgq_node.register_subscriber", code, note.String); err != nil {
		return 0, errors.Trace(err)
	}
	return watermark.Int64, nil
}

// UnregisterSubscriber drops the subscription of node.
func UnregisterSubscriber(ctx context.Context, db database.DBTX, queueName, node string) error {
	return callNode(ctx, db, "unregister_subscriber", queueName, node)
}

// SetConsumerPaused pauses or resumes a worker.
func SetConsumerPaused(ctx context.Context, db database.DBTX, queueName, consumer string, paused bool) error {
	return callNode(ctx, db, "set_consumer_paused", queueName, consumer, paused)
}

// SetConsumerUptodate records whether a worker has caught up.
func SetConsumerUptodate(ctx context.Context, db database.DBTX, queueName, consumer string, uptodate bool) error {
	return callNode(ctx, db, "set_consumer_uptodate", queueName, consumer, uptodate)
}

// SetConsumerError records the last failure of a worker. An empty message
// clears it.
func SetConsumerError(ctx context.Context, db database.DBTX, queueName, consumer, msg string) error {
	var arg pgtype.Text
	if msg != "" {
		arg = pgtype.Text{String: msg, Valid: true}
	}
	return callNode(ctx, db, "set_consumer_error", queueName, consumer, arg)
}

// SetConsumerCompleted records tickID as applied by a worker. It must run
// in the apply transaction.
func SetConsumerCompleted(ctx context.Context, db database.DBTX, queueName, consumer string, tickID int64) error {
	return callNode(ctx, db, "set_consumer_completed", queueName, consumer, tickID)
}

// ChangeConsumerProvider points a worker at a new provider node.
func ChangeConsumerProvider(ctx context.Context, db database.DBTX, queueName, consumer, provider string) error {
	return callNode(ctx, db, "change_consumer_provider", queueName, consumer, provider)
}

// SetSubscriberWatermark reports the watermark of node to its provider.
func SetSubscriberWatermark(ctx context.Context, db database.DBTX, queueName, node string, watermark int64) error {
	return callNode(ctx, db, "set_subscriber_watermark", queueName, node, watermark)
}

// SetGlobalWatermark asks the root to recompute and publish the global
// watermark from its subscribers.
func SetGlobalWatermark(ctx context.Context, db database.DBTX, queueName string) error {
	return callNode(ctx, db, "set_global_watermark", queueName, pgtype.Int8{})
}

// SetGlobalWatermarkTo applies a global watermark received from upstream
// on a non root node.
func SetGlobalWatermarkTo(ctx context.Context, db database.DBTX, queueName string, watermark int64) error {
	return callNode(ctx, db, "set_global_watermark", queueName, pgtype.Int8{Int64: watermark, Valid: true})
}

// RegisterLocation records the connect string of a node.
func RegisterLocation(ctx context.Context, db database.DBTX, queueName string, loc cascade.Location) error {
	return callNode(ctx, db, "register_location", queueName, loc.NodeName, loc.ConnStr, loc.Dead)
}

// UnregisterLocation forgets a node.
func UnregisterLocation(ctx context.Context, db database.DBTX, queueName, node string) error {
	return callNode(ctx, db, "unregister_location", queueName, node)
}

// QueueLocations lists the known nodes of a cascade.
func QueueLocations(ctx context.Context, db database.DBTX, queueName string) ([]cascade.Location, error) {
	rows, err := db.Query(ctx, `
SELECT node_name, node_location, dead
FROM pgq_node.get_queue_locations($1)`, queueName)
	if err != nil {
		return nil, errors.Annotatef(err, "listing locations of %q", queueName)
	}
	defer rows.Close()

	var locs []cascade.Location
	for rows.Next() {
		var loc cascade.Location
		if err := rows.Scan(&loc.NodeName, &loc.ConnStr, &loc.Dead); err != nil {
			return nil, errors.Trace(err)
		}
		locs = append(locs, loc)
	}
	return locs, errors.Trace(rows.Err())
}

// Subscriber is a downstream node as seen by its provider.
type Subscriber struct {
	NodeName   string
	WorkerName string
	Watermark  int64
}

// Subscribers lists the direct subscribers of the local node.
func Subscribers(ctx context.Context, db database.DBTX, queueName string) ([]Subscriber, error) {
	rows, err := db.Query(ctx, `
SELECT node_name, worker_name, node_watermark
FROM pgq_node.get_subscriber_info($1)`, queueName)
	if err != nil {
		return nil, errors.Annotatef(err, "listing subscribers of %q", queueName)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var (
			s  Subscriber
			wm pgtype.Int8
		)
		if err := rows.Scan(&s.NodeName, &s.WorkerName, &wm); err != nil {
			return nil, errors.Trace(err)
		}
		s.Watermark = wm.Int64
		subs = append(subs, s)
	}
	return subs, errors.Trace(rows.Err())
}
