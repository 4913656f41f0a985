// Package storetest holds the behavioural checks every store plugin must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func keys(recs []model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}

func page(limit int) registrystore.Page { return registrystore.Page{Limit: limit} }

// Run exercises store against the shared contract. All subtests share the
// store and use disjoint keys.
func Run(t *testing.T, ctx context.Context, store registrystore.Store) {
	t.Run("CreateGetRecord", func(t *testing.T) {
		created, err := store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "cg/a", Value: "v1"})
		require.NoError(t, err)
		assert.Equal(t, "cg/a", created.Key)
		assert.Nil(t, created.ParentKey)

		got, err := store.GetRecord(ctx, model.KindKeyValue, "cg/a")
		require.NoError(t, err)
		assert.Equal(t, "v1", got.Value)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, model.KindPrompt, model.Record{Key: "dup", Value: "one"})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindPrompt, model.Record{Key: "dup", Value: "two"})
		var conflict *registrystore.ConflictError
		require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
		assert.True(t, conflict.IsDuplicateKey())

		// keys are unique per kind only
		_, err = store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "dup", Value: "three"})
		require.NoError(t, err)
	})

	t.Run("GetMissingRecord", func(t *testing.T) {
		_, err := store.GetRecord(ctx, model.KindStrategy, "missing")
		var nf *registrystore.NotFoundError
		require.True(t, errors.As(err, &nf))
	})

	t.Run("UpdateRecord", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "up/a", Value: "v", ParentKey: strPtr("up")})
		require.NoError(t, err)

		updated, err := store.UpdateRecord(ctx, model.KindKeyValue, "up/a", model.RecordPatch{Value: strPtr("v2")})
		require.NoError(t, err)
		assert.Equal(t, "v2", updated.Value)
		require.NotNil(t, updated.ParentKey)
		assert.Equal(t, "up", *updated.ParentKey)

		updated, err = store.UpdateRecord(ctx, model.KindKeyValue, "up/a", model.RecordPatch{ParentKey: strPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.ParentKey)
		assert.Equal(t, "v2", updated.Value)

		_, err = store.UpdateRecord(ctx, model.KindKeyValue, "up/missing", model.RecordPatch{Value: strPtr("x")})
		var nf *registrystore.NotFoundError
		require.True(t, errors.As(err, &nf))
	})

	t.Run("UpdateRefreshesTimestamp", func(t *testing.T) {
		created := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
		status := model.StrategyNotStarted
		_, err := store.CreateRecord(ctx, model.KindStrategy, model.Record{
			Key: "ts/a", Value: "plan", Status: &status, User: strPtr("alice"),
			CreatedAt: &created, UpdatedAt: &created,
		})
		require.NoError(t, err)

		next := model.StrategyCompleted
		updated, err := store.UpdateRecord(ctx, model.KindStrategy, "ts/a", model.RecordPatch{Status: &next})
		require.NoError(t, err)
		require.NotNil(t, updated.Status)
		assert.Equal(t, model.StrategyCompleted, *updated.Status)
		assert.Equal(t, "plan", updated.Value)
		require.NotNil(t, updated.CreatedAt)
		require.NotNil(t, updated.UpdatedAt)
		assert.True(t, updated.CreatedAt.Equal(created))
		assert.True(t, updated.UpdatedAt.After(created))
	})

	t.Run("DeleteRecord", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, model.KindPrompt, model.Record{Key: "del", Value: "x"})
		require.NoError(t, err)
		require.NoError(t, store.DeleteRecord(ctx, model.KindPrompt, "del"))

		var nf *registrystore.NotFoundError
		require.True(t, errors.As(store.DeleteRecord(ctx, model.KindPrompt, "del"), &nf))
	})

	t.Run("ScanLiteralPrefix", func(t *testing.T) {
		for _, k := range []string{"lp.a", "lp.b", "lpxc", "other"} {
			_, err := store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: k, Value: k})
			require.NoError(t, err)
		}
		recs, err := store.ScanRecords(ctx, model.KindKeyValue,
			registrystore.Filter{Prefix: &registrystore.PrefixMatch{Value: "lp."}}, page(10))
		require.NoError(t, err)
		assert.Equal(t, []string{"lp.a", "lp.b"}, keys(recs))
	})

	t.Run("ScanRegexPrefix", func(t *testing.T) {
		for _, k := range []string{"rx1", "ry2", "zrx"} {
			_, err := store.CreateRecord(ctx, model.KindPrompt, model.Record{Key: k, Value: k})
			require.NoError(t, err)
		}
		recs, err := store.ScanRecords(ctx, model.KindPrompt,
			registrystore.Filter{Prefix: &registrystore.PrefixMatch{Value: "r[xy]", Regex: true}}, page(10))
		require.NoError(t, err)
		assert.Equal(t, []string{"rx1", "ry2"}, keys(recs))
	})

	t.Run("ScanParentFilter", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "pf", Value: "root"})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "pf/1", Value: "c1", ParentKey: strPtr("pf")})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "pf/2", Value: "c2", ParentKey: strPtr("pf")})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: "pf/1/x", Value: "g", ParentKey: strPtr("pf/1")})
		require.NoError(t, err)

		prefix := &registrystore.PrefixMatch{Value: "pf"}

		roots, err := store.ScanRecords(ctx, model.KindKeyValue,
			registrystore.Filter{Prefix: prefix, Parent: registrystore.RootsOnly()}, page(10))
		require.NoError(t, err)
		assert.Equal(t, []string{"pf"}, keys(roots))

		children, err := store.ScanRecords(ctx, model.KindKeyValue,
			registrystore.Filter{Parent: registrystore.ChildrenOf("pf")}, page(10))
		require.NoError(t, err)
		assert.Equal(t, []string{"pf/1", "pf/2"}, keys(children))

		all, err := store.ScanRecords(ctx, model.KindKeyValue, registrystore.Filter{Prefix: prefix}, page(10))
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("ScanPaging", func(t *testing.T) {
		for _, k := range []string{"pg1", "pg2", "pg3", "pg4", "pg5"} {
			_, err := store.CreateRecord(ctx, model.KindKeyValue, model.Record{Key: k, Value: k})
			require.NoError(t, err)
		}
		filter := registrystore.Filter{Prefix: &registrystore.PrefixMatch{Value: "pg"}}
		recs, err := store.ScanRecords(ctx, model.KindKeyValue, filter, registrystore.Page{Skip: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"pg2", "pg3"}, keys(recs))

		recs, err = store.ScanRecords(ctx, model.KindKeyValue, filter, registrystore.Page{Skip: 4, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"pg5"}, keys(recs))
	})

	t.Run("StrategyEqualityAndProjection", func(t *testing.T) {
		started := model.StrategyStarted
		idle := model.StrategyNotStarted
		_, err := store.CreateRecord(ctx, model.KindStrategy, model.Record{Key: "st/a", Value: "a", Status: &started, ConversationID: strPtr("c1")})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindStrategy, model.Record{Key: "st/b", Value: "b", Status: &idle, ConversationID: strPtr("c1")})
		require.NoError(t, err)
		_, err = store.CreateRecord(ctx, model.KindStrategy, model.Record{Key: "st/c", Value: "c", Status: &started})
		require.NoError(t, err)

		filter := registrystore.Filter{
			Prefix: &registrystore.PrefixMatch{Value: "st/"},
			Equals: map[string]string{model.FieldStatus: string(started)},
		}
		rows, err := store.ProjectRecords(ctx, model.KindStrategy, model.KindStrategy.KeyFields(), filter, page(10))
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"key": "st/a", "status": "1", "conversationId": "c1"},
			{"key": "st/c", "status": "1"},
		}, rows)
	})

	t.Run("ScanRejectsInvalidFilter", func(t *testing.T) {
		_, err := store.ScanRecords(ctx, model.KindPrompt,
			registrystore.Filter{Parent: registrystore.RootsOnly()}, page(10))
		var verr *registrystore.ValidationError
		require.True(t, errors.As(err, &verr))
	})

	t.Run("Messages", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		insert := func(owner, conv, id string, offset time.Duration, byUser bool) {
			t.Helper()
			_, err := store.InsertMessage(ctx, model.Message{
				MessageID: id, ConversationID: conv, Sender: "User", Text: "text " + id,
				IsCreatedByUser: byUser, CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset), User: owner,
			})
			require.NoError(t, err)
		}
		insert("alice", "conv-1", "m1", 0, true)
		insert("alice", "conv-1", "m2", time.Second, false)
		insert("alice", "conv-2", "m3", 2*time.Second, true)
		insert("bob", "conv-1", "m4", 3*time.Second, true)

		_, err := store.InsertMessage(ctx, model.Message{MessageID: "m1", ConversationID: "conv-1", User: "alice", CreatedAt: base, UpdatedAt: base})
		var conflict *registrystore.ConflictError
		require.True(t, errors.As(err, &conflict))

		thread, err := store.FindThread(ctx, "alice", "conv-1")
		require.NoError(t, err)
		require.Len(t, thread, 2)
		assert.Equal(t, "m1", thread[0].MessageID)
		assert.Equal(t, "m2", thread[1].MessageID)
		assert.True(t, thread[0].IsCreatedByUser)

		bobs, err := store.FindThread(ctx, "bob", "conv-1")
		require.NoError(t, err)
		require.Len(t, bobs, 1)

		got, err := store.GetMessage(ctx, "alice", "m2")
		require.NoError(t, err)
		assert.Equal(t, "conv-1", got.ConversationID)
		assert.False(t, got.IsCreatedByUser)

		edited, err := store.UpdateMessageText(ctx, "alice", "m2", "changed", 7, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "changed", edited.Text)
		assert.Equal(t, 7, edited.TokenCount)
		assert.True(t, edited.IsEdited)

		_, err = store.UpdateMessageText(ctx, "bob", "m2", "nope", 1, base)
		var nf *registrystore.NotFoundError
		require.True(t, errors.As(err, &nf))
		_, err = store.GetMessage(ctx, "bob", "m2")
		require.True(t, errors.As(err, &nf))

		summaries, err := store.ListConversations(ctx, "alice", page(10))
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "conv-2", summaries[0].ConversationID)
		assert.Equal(t, 1, summaries[0].MessageCount)
		assert.Equal(t, "conv-1", summaries[1].ConversationID)
		assert.Equal(t, 2, summaries[1].MessageCount)
		assert.Equal(t, "m2", summaries[1].LastMessage.MessageID)

		require.True(t, errors.As(store.DeleteMessage(ctx, "bob", "m1"), &nf))
		require.NoError(t, store.DeleteMessage(ctx, "alice", "m1"))
		thread, err = store.FindThread(ctx, "alice", "conv-1")
		require.NoError(t, err)
		require.Len(t, thread, 1)
	})

	t.Run("Users", func(t *testing.T) {
		created, err := store.CreateUser(ctx, model.User{Username: "carol", HashedPassword: "h1", Type: model.UserTypeAdmin})
		require.NoError(t, err)
		assert.True(t, created.IsAdmin())
		assert.False(t, created.CreatedAt.IsZero())

		_, err = store.CreateUser(ctx, model.User{Username: "carol", HashedPassword: "h2", Type: model.UserTypeStandard})
		var conflict *registrystore.ConflictError
		require.True(t, errors.As(err, &conflict))

		updated, err := store.UpdateUserPassword(ctx, "carol", "h3")
		require.NoError(t, err)
		assert.Equal(t, "h3", updated.HashedPassword)

		_, err = store.CreateUser(ctx, model.User{Username: "dave", HashedPassword: "h", Type: model.UserTypeStandard})
		require.NoError(t, err)
		users, err := store.ListUsers(ctx, page(10))
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "carol", users[0].Username)

		require.NoError(t, store.DeleteUser(ctx, "dave"))
		_, err = store.GetUser(ctx, "dave")
		var nf *registrystore.NotFoundError
		require.True(t, errors.As(err, &nf))
	})
}
