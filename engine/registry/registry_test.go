package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/pkg/repo"
)

type link struct {
	id  string
	rel repo.Relation
}

type fakeRepo struct {
	nodes   map[string]Node
	links   []link
	failIDs map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nodes: map[string]Node{}, failIDs: map[string]bool{}}
}

func (f *fakeRepo) Upsert(_ context.Context, n Node) error {
	if f.failIDs[n.ID] {
		return errors.New("write refused")
	}
	f.nodes[n.ID] = n
	return nil
}

func (f *fakeRepo) Link(_ context.Context, id string, rel repo.Relation) error {
	f.links = append(f.links, link{id, rel})
	return nil
}

func (f *fakeRepo) Count(context.Context) (int64, error) { return int64(len(f.nodes)), nil }

func TestRecordLinksSucceededItems(t *testing.T) {
	fake := newFakeRepo()
	reg := New(fake, nil)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	pin := collectible.Item{ID: "collectible-1", Name: "Gold Pin", Type: "Pin"}
	coin := collectible.Item{ID: "collectible-2", Name: "Service Medal", Description: "a coin for service"}
	bare := collectible.Item{ID: "collectible-3", Type: "Pin"}
	items := map[string]collectible.Item{pin.ID: pin, coin.ID: coin, bare.ID: bare}

	m, err := classify.Compile([]string{"pin", "coin"})
	require.NoError(t, err)

	outcomes := []collectible.Outcome{
		collectible.Succeed(pin, "/out/1.png", false),
		collectible.Succeed(coin, "/out/2.png", true),
		collectible.Fail(bare, collectible.ErrNoImageURL),
	}
	require.NoError(t, reg.Record(context.Background(), "run-1", items, outcomes, m))

	require.Len(t, fake.nodes, 3)
	assert.Equal(t, "materialized", fake.nodes[pin.ID].Status)
	assert.Equal(t, "skipped", fake.nodes[coin.ID].Status)
	assert.Equal(t, "failed", fake.nodes[bare.ID].Status)
	assert.Equal(t, "no image URL provided", fake.nodes[bare.ID].Error)
	assert.Equal(t, "run-1", fake.nodes[pin.ID].RunID)
	assert.Equal(t, fixed, fake.nodes[pin.ID].UpdatedAt)

	require.Len(t, fake.links, 2)
	assert.Equal(t, pin.ID, fake.links[0].id)
	assert.Equal(t, "pin", fake.links[0].rel.TargetValue)
	assert.Equal(t, "type", fake.links[0].rel.Props["field"])
	assert.Equal(t, RelInCategory, fake.links[0].rel.Type)
	assert.Equal(t, "coin", fake.links[1].rel.TargetValue)
	assert.Equal(t, "text", fake.links[1].rel.Props["field"])

	n, err := reg.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, reg.Close(context.Background()))
}

func TestRecordCollectsErrors(t *testing.T) {
	fake := newFakeRepo()
	fake.failIDs["collectible-1"] = true
	reg := New(fake, nil)

	a := collectible.Item{ID: "collectible-1", Type: "Pin"}
	b := collectible.Item{ID: "collectible-2", Type: "Pin"}
	outcomes := []collectible.Outcome{
		collectible.Succeed(a, "/out/1.png", false),
		collectible.Succeed(b, "/out/2.png", false),
	}
	err := reg.Record(context.Background(), "run-2",
		map[string]collectible.Item{a.ID: a, b.ID: b}, outcomes, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write refused")
	assert.Contains(t, fake.nodes, "collectible-2")
	assert.Empty(t, fake.links)
}

func TestToMap(t *testing.T) {
	m := toMap(Node{ID: "collectible-7", Status: "failed", UpdatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "collectible-7", m["id"])
	assert.Equal(t, "2024-06-01T00:00:00Z", m["updated_at"])
}
