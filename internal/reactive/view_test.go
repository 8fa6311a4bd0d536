package reactive

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instrulink/sessionkit/internal/session"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

func countSubThreads(sess *types.Session) int {
	if sess == nil {
		return 0
	}
	return len(sess.SubThreads)
}

func TestBindProjectsInitialValue(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	store.CreateSession("user-1", "")
	store.CreateSubThread(types.WorkflowSolution)

	view := Bind(store, countSubThreads)
	defer view.Close()

	assert.Equal(t, 1, view.Get())
}

func TestViewTracksMutationsWithoutPolling(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	view := Bind(store, countSubThreads)
	defer view.Close()

	var observed []int
	view.Listen(func(n int) { observed = append(observed, n) })

	store.CreateSession("user-1", "")
	store.CreateSubThread(types.WorkflowSolution)
	store.CreateSubThread(types.WorkflowGroundedChat)

	// Every mutation pushed a fresh projection; the last one is current.
	assert.Equal(t, 2, view.Get())
	require.NotEmpty(t, observed)
	assert.Equal(t, 2, observed[len(observed)-1])
}

func TestViewSeesSessionEnd(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	store.CreateSession("user-1", "")
	store.CreateSubThread(types.WorkflowSolution)

	view := Bind(store, func(sess *types.Session) string {
		if sess == nil {
			return ""
		}
		return sess.ID
	})
	defer view.Close()
	require.NotEmpty(t, view.Get())

	store.EndSession()
	assert.Empty(t, view.Get())
}

func TestListenUnregister(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	view := Bind(store, countSubThreads)
	defer view.Close()

	calls := 0
	unregister := view.Listen(func(int) { calls++ })

	store.CreateSession("user-1", "")
	seen := calls
	require.Positive(t, seen)

	unregister()
	store.CreateSubThread(types.WorkflowSolution)
	assert.Equal(t, seen, calls)
	// The view itself still tracks.
	assert.Equal(t, 1, view.Get())
}

func TestCloseDetachesFromStore(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	store.CreateSession("user-1", "")
	view := Bind(store, countSubThreads)

	view.Close()
	store.CreateSubThread(types.WorkflowSolution)
	assert.Equal(t, 0, view.Get())
}

func TestConcurrentCloseIsSafe(t *testing.T) {
	store := session.NewStore(nil, nil, session.Options{}, nil, nil)
	store.CreateSession("user-1", "")
	view := Bind(store, countSubThreads)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view.Close()
		}()
	}
	wg.Wait()

	// Detached exactly once and for good.
	store.CreateSubThread(types.WorkflowSolution)
	assert.Equal(t, 0, view.Get())
}
