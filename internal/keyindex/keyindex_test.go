package keyindex_test

import (
	"errors"
	"testing"

	"github.com/chirino/keyvalue-service/internal/keyindex"
	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/testutil/teststore"
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

func TestParentTriState(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{})

	for _, rec := range []model.Record{
		{Key: "docs", Value: "root"},
		{Key: "docs/a", Value: "child", ParentKey: strPtr("docs")},
		{Key: "docs/b", Value: "child", ParentKey: strPtr("docs")},
		{Key: "docs/a/1", Value: "grandchild", ParentKey: strPtr("docs/a")},
		{Key: "notes", Value: "root", ParentKey: strPtr("")},
		{Key: "orphan", Value: "dangling", ParentKey: strPtr("missing")},
	} {
		_, err := x.Create(ctx, model.KindKeyValue, rec, "alice")
		require.NoError(t, err)
	}

	all, err := x.List(ctx, model.KindKeyValue, keyindex.Query{Parent: registrystore.ParseParent(nil)})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	roots, err := x.List(ctx, model.KindKeyValue, keyindex.Query{Parent: registrystore.ParseParent(strPtr(""))})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "notes"}, keys(roots))

	children, err := x.List(ctx, model.KindKeyValue, keyindex.Query{Parent: registrystore.ParseParent(strPtr("docs"))})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a", "docs/b"}, keys(children))

	orphans, err := x.List(ctx, model.KindKeyValue, keyindex.Query{Parent: registrystore.ChildrenOf("missing")})
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, keys(orphans))
}

func TestPrefixAndParentCombine(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{})

	for _, rec := range []model.Record{
		{Key: "a", Value: "root"},
		{Key: "a.x", Value: "c", ParentKey: strPtr("a")},
		{Key: "ab", Value: "c", ParentKey: strPtr("a")},
		{Key: "b", Value: "root"},
	} {
		_, err := x.Create(ctx, model.KindKeyValue, rec, "")
		require.NoError(t, err)
	}

	got, err := x.List(ctx, model.KindKeyValue, keyindex.Query{Prefix: strPtr("a."), Parent: registrystore.ChildrenOf("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.x"}, keys(got))

	got, err = x.List(ctx, model.KindKeyValue, keyindex.Query{Prefix: strPtr("a"), Parent: registrystore.RootsOnly()})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(got))

	projected, err := x.Keys(ctx, model.KindKeyValue, keyindex.Query{Prefix: strPtr("a")})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"key": "a"}, {"key": "a.x"}, {"key": "ab"}}, projected)
}

func TestRegexIsOptIn(t *testing.T) {
	store, ctx := teststore.Open(t, nil)

	strict := keyindex.New(store, keyindex.Options{})
	_, err := strict.List(ctx, model.KindPrompt, keyindex.Query{Prefix: strPtr("p[0-9]"), Regex: true})
	var verr *registrystore.ValidationError
	require.True(t, errors.As(err, &verr))

	x := keyindex.New(store, keyindex.Options{AllowRegex: true})
	for _, k := range []string{"p1", "p2", "px"} {
		_, err := x.Create(ctx, model.KindPrompt, model.Record{Key: k, Value: k}, "")
		require.NoError(t, err)
	}
	got, err := x.List(ctx, model.KindPrompt, keyindex.Query{Prefix: strPtr("p[0-9]"), Regex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, keys(got))

	// without Regex the brackets are literal
	got, err = x.List(ctx, model.KindPrompt, keyindex.Query{Prefix: strPtr("p[0-9]")})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = x.List(ctx, model.KindPrompt, keyindex.Query{Prefix: strPtr("p("), Regex: true})
	require.True(t, errors.As(err, &verr))
}

func TestCreateStrategyDefaults(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{})

	rec, err := x.Create(ctx, model.KindStrategy, model.Record{Key: "s1", Value: "plan", ConversationID: strPtr("c1")}, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec.Status)
	assert.Equal(t, model.StrategyNotStarted, *rec.Status)
	require.NotNil(t, rec.User)
	assert.Equal(t, "alice", *rec.User)
	assert.NotNil(t, rec.CreatedAt)

	_, err = x.Create(ctx, model.KindStrategy, model.Record{Key: "s1", Value: "again"}, "bob")
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.True(t, conflict.IsDuplicateKey())

	started := model.StrategyStarted
	rec, err = x.Update(ctx, model.KindStrategy, "s1", model.RecordPatch{Status: &started})
	require.NoError(t, err)
	assert.Equal(t, "plan", rec.Value)
	assert.Equal(t, model.StrategyStarted, *rec.Status)

	bad := model.StrategyStatus("9")
	_, err = x.Update(ctx, model.KindStrategy, "s1", model.RecordPatch{Status: &bad})
	var verr *registrystore.ValidationError
	require.True(t, errors.As(err, &verr))

	keysOut, err := x.Keys(ctx, model.KindStrategy, keyindex.Query{Status: strPtr("1")})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"key": "s1", "status": "1", "conversationId": "c1"}}, keysOut)
}

func TestValidation(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{})
	var verr *registrystore.ValidationError

	_, err := x.Create(ctx, model.KindKeyValue, model.Record{Key: " ", Value: "v"}, "")
	require.True(t, errors.As(err, &verr))

	_, err = x.Create(ctx, model.KindPrompt, model.Record{Key: "p", Value: "v", ParentKey: strPtr("x")}, "")
	require.True(t, errors.As(err, &verr))

	_, err = x.List(ctx, model.KindPrompt, keyindex.Query{Parent: registrystore.RootsOnly()})
	require.True(t, errors.As(err, &verr))

	_, err = x.List(ctx, model.KindKeyValue, keyindex.Query{Status: strPtr("1")})
	require.True(t, errors.As(err, &verr))

	_, err = x.List(ctx, model.KindKeyValue, keyindex.Query{Skip: -1})
	require.True(t, errors.As(err, &verr))

	_, err = x.Update(ctx, model.KindPrompt, "p", model.RecordPatch{Status: new(model.StrategyStatus)})
	require.True(t, errors.As(err, &verr))
}

func TestNotFound(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{})
	var nf *registrystore.NotFoundError

	_, err := x.Get(ctx, model.KindKeyValue, "nope")
	require.True(t, errors.As(err, &nf))
	_, err = x.Update(ctx, model.KindKeyValue, "nope", model.RecordPatch{Value: strPtr("v")})
	require.True(t, errors.As(err, &nf))
	require.True(t, errors.As(x.Delete(ctx, model.KindKeyValue, "nope"), &nf))
}

func TestPagination(t *testing.T) {
	store, ctx := teststore.Open(t, nil)
	x := keyindex.New(store, keyindex.Options{DefaultLimit: 3})
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		_, err := x.Create(ctx, model.KindKeyValue, model.Record{Key: k, Value: k}, "")
		require.NoError(t, err)
	}

	got, err := x.List(ctx, model.KindKeyValue, keyindex.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys(got))

	got, err = x.List(ctx, model.KindKeyValue, keyindex.Query{Skip: 3, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"k4", "k5"}, keys(got))
}
