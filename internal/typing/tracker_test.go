package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker()
	t.Cleanup(tr.Close)
	return tr
}

func TestSetAndUnsetTyping(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("room-1", models.Identity{ID: "u2", Name: "Bob"}, true)
	tr.Set("room-1", models.Identity{ID: "u3", Name: "Eve"}, true)

	who := tr.Typing("room-1")
	require.Len(t, who, 2)
	assert.Equal(t, "u2", who[0].ID)
	assert.Equal(t, "u3", who[1].ID)

	tr.Set("room-1", models.Identity{ID: "u2"}, false)
	who = tr.Typing("room-1")
	require.Len(t, who, 1)
	assert.Equal(t, "u3", who[0].ID)
}

func TestSetIsIdempotentPerIdentity(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("room-1", models.Identity{ID: "u2"}, true)
	tr.Set("room-1", models.Identity{ID: "u2"}, true)
	assert.Len(t, tr.Typing("room-1"), 1)

	tr.Set("room-1", models.Identity{ID: "u2"}, false)
	tr.Set("room-1", models.Identity{ID: "u2"}, false)
	assert.Empty(t, tr.Typing("room-1"))
}

func TestClearAllEmptiesThread(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("room-1", models.Identity{ID: "u2"}, true)
	tr.Set("room-1", models.Identity{ID: "u3"}, true)
	tr.Set("room-2", models.Identity{ID: "u4"}, true)

	tr.ClearAll("room-1")
	assert.Empty(t, tr.Typing("room-1"))
	assert.Len(t, tr.Typing("room-2"), 1)
}

func TestDropDiscardsThreadState(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("room-1", models.Identity{ID: "u2"}, true)
	tr.Drop("room-1")
	assert.Empty(t, tr.Typing("room-1"))
}

func TestThreadsAreIndependent(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("room-1", models.Identity{ID: "u2"}, true)
	tr.Set("room-2", models.Identity{ID: "u2"}, true)

	tr.Set("room-1", models.Identity{ID: "u2"}, false)
	assert.Empty(t, tr.Typing("room-1"))
	assert.Len(t, tr.Typing("room-2"), 1)
}
