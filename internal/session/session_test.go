package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesync/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *frameCapture) ofType(t string) []models.WSFrame {
	var out []models.WSFrame
	for _, f := range c.list() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *frameCapture) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// manualClock fires timers only when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func hookedClient(t *testing.T) (*Client, *frameCapture) {
	t.Helper()
	c := NewClient(nil)
	capture := newFrameCapture()
	c.SetSendHook(capture.hook)
	return c, capture
}

func newTestHub(clock Clock) *Hub {
	return NewHub(nil, WithClock(clock), WithGracePeriod(DefaultGracePeriod))
}

func TestClientSendWithHook(t *testing.T) {
	client, capture := hookedClient(t)
	client.Send(models.WSFrame{Type: "ping"})
	got := capture.list()
	if len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendWithoutConnDoesNotPanic(t *testing.T) {
	client := NewClient(nil)
	if client.Send(models.WSFrame{Type: "noop"}) {
		t.Fatalf("send without a connection should report false")
	}
}

func TestClientIDsAreUnique(t *testing.T) {
	a, b := NewClient(nil), NewClient(nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}

func TestClientWritePumpWritesInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.WSFrame, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			var frame models.WSFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			received <- frame
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}

	client := NewClient(conn)
	go client.WritePump()
	defer client.Close()

	for _, typ := range []string{"one", "two", "three"} {
		client.Send(models.WSFrame{Type: typ})
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case frame := <-received:
			if frame.Type != want {
				t.Fatalf("expected %s, got %s", want, frame.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestCreateRoomDistinctAndExists(t *testing.T) {
	hub := newTestHub(&manualClock{})
	a := hub.CreateRoom()
	b := hub.CreateRoom()

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 8)
	assert.True(t, hub.RoomExists(a))
	assert.True(t, hub.RoomExists(b))
	assert.False(t, hub.RoomExists("deadbeef"))

	files, ok := hub.Files(a)
	require.True(t, ok)
	assert.Contains(t, files, "main.js")
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	hub := newTestHub(&manualClock{})
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	hub.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	assert.Equal(t, "aaaaaaaa", hub.CreateRoom())
	assert.Equal(t, "bbbbbbbb", hub.CreateRoom())
}

func TestJoinUnknownRoom(t *testing.T) {
	hub := newTestHub(&manualClock{})
	c, capture := hookedClient(t)
	_, err := hub.Join("missing", c, "ann")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Empty(t, capture.list())
	_, in := hub.RoomOf(c.ID)
	assert.False(t, in)
}

func TestJoinSendsPrivateSnapshotAndNotifiesOthers(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()

	a, capA := hookedClient(t)
	b, capB := hookedClient(t)

	_, err := hub.Join(roomID, a, "ann")
	require.NoError(t, err)
	capA.reset()

	res, err := hub.Join(roomID, b, "bob")
	require.NoError(t, err)
	assert.Len(t, res.Users, 2)
	assert.Equal(t, a.ID, res.HostID)

	bFrames := capB.list()
	require.Len(t, bFrames, 2)
	assert.Equal(t, models.EventFilesSync, bFrames[0].Type)
	assert.Equal(t, models.EventUsersList, bFrames[1].Type)
	assert.Empty(t, capB.ofType(models.EventUserJoined), "joiner must not see its own user-joined")

	joined := capA.ofType(models.EventUserJoined)
	require.Len(t, joined, 1)
	payload := joined[0].Data.(models.UserJoined)
	assert.Equal(t, b.ID, payload.User.ID)
	assert.Equal(t, "bob", payload.User.Name)
	assert.Equal(t, a.ID, payload.HostID)
}

func TestJoinIsIdempotentPerConnection(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, _ := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, b, "bob")
	capB.reset()

	_, _ = hub.Join(roomID, a, "ann")
	res, err := hub.Join(roomID, a, "ann")
	require.NoError(t, err)
	assert.Len(t, res.Users, 2)
	assert.Len(t, capB.ofType(models.EventUserJoined), 1)
}

func TestRejoinUnderNewNameRenamesMember(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, a, "alice")
	_, _ = hub.Join(roomID, b, "carol")
	capA.reset()
	capB.reset()

	res, err := hub.Join(roomID, a, "bob")
	require.NoError(t, err)
	require.Len(t, res.Users, 2)
	assert.Equal(t, "bob", res.Users[0].Name)

	lists := capA.ofType(models.EventUsersList)
	require.Len(t, lists, 1)
	assert.Equal(t, "bob", lists[0].Data.(models.UsersList).Users[0].Name)
	assert.Empty(t, capB.ofType(models.EventUserJoined))

	info, _ := hub.Room(roomID)
	assert.Equal(t, a.ID, info.HostID)
	assert.Equal(t, "bob", info.HostName)
}

func TestHostStickyAndReclaimedByName(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()

	host, _ := hookedClient(t)
	guest, _ := hookedClient(t)
	_, _ = hub.Join(roomID, host, "ann")
	_, _ = hub.Join(roomID, guest, "bob")

	info, _ := hub.Room(roomID)
	assert.Equal(t, host.ID, info.HostID)
	assert.Equal(t, "ann", info.HostName)

	hub.Disconnect(host.ID)
	info, _ = hub.Room(roomID)
	assert.Equal(t, host.ID, info.HostID, "host must not be reassigned on disconnect")

	other, _ := hookedClient(t)
	_, _ = hub.Join(roomID, other, "carol")
	info, _ = hub.Room(roomID)
	assert.Equal(t, host.ID, info.HostID, "a different name must not take host")

	back, _ := hookedClient(t)
	res, err := hub.Join(roomID, back, "ann")
	require.NoError(t, err)
	assert.Equal(t, back.ID, res.HostID)
}

func TestLeaveBroadcastsToRemainingMembers(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, a, "ann")
	_, _ = hub.Join(roomID, b, "bob")
	capA.reset()
	capB.reset()

	assert.True(t, hub.Leave(roomID, b.ID))
	left := capA.ofType(models.EventUserLeft)
	require.Len(t, left, 1)
	payload := left[0].Data.(models.UserLeft)
	assert.Equal(t, b.ID, payload.UserID)
	assert.Len(t, payload.Users, 1)
	assert.Empty(t, capB.list())

	assert.False(t, hub.Leave(roomID, b.ID))
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	hub := newTestHub(&manualClock{})
	assert.False(t, hub.Disconnect("never-joined"))
}

func TestJoinAnotherRoomLeavesPrevious(t *testing.T) {
	hub := newTestHub(&manualClock{})
	r1 := hub.CreateRoom()
	r2 := hub.CreateRoom()
	c, _ := hookedClient(t)
	_, _ = hub.Join(r1, c, "ann")
	_, _ = hub.Join(r2, c, "ann")

	info, _ := hub.Room(r1)
	assert.Empty(t, info.Users)
	assert.True(t, hub.Scheduler().Pending(r1))
	got, _ := hub.RoomOf(c.ID)
	assert.Equal(t, r2, got)
}

func TestEmptyRoomReapedAfterGracePeriod(t *testing.T) {
	clock := &manualClock{}
	var deleted []string
	hub := NewHub(nil, WithClock(clock), WithRoomDeleted(func(id string) { deleted = append(deleted, id) }))
	roomID := hub.CreateRoom()
	c, _ := hookedClient(t)
	_, _ = hub.Join(roomID, c, "ann")
	hub.Disconnect(c.ID)

	assert.True(t, hub.Scheduler().Pending(roomID))
	clock.Advance(DefaultGracePeriod - time.Second)
	assert.True(t, hub.RoomExists(roomID), "room deleted before grace period")

	clock.Advance(time.Second)
	assert.False(t, hub.RoomExists(roomID))
	_, ok := hub.Files(roomID)
	assert.False(t, ok)
	assert.False(t, hub.Scheduler().Pending(roomID))
	assert.Equal(t, []string{roomID}, deleted)
}

func TestRejoinCancelsCleanup(t *testing.T) {
	clock := &manualClock{}
	hub := newTestHub(clock)
	roomID := hub.CreateRoom()
	_, err := hub.CreateFile(roomID, "keep.js", "x")
	require.NoError(t, err)

	c, _ := hookedClient(t)
	_, _ = hub.Join(roomID, c, "ann")
	hub.Leave(roomID, c.ID)
	clock.Advance(time.Minute)

	c2, _ := hookedClient(t)
	_, err = hub.Join(roomID, c2, "ann")
	require.NoError(t, err)
	assert.False(t, hub.Scheduler().Pending(roomID))

	clock.Advance(DefaultGracePeriod * 2)
	assert.True(t, hub.RoomExists(roomID))
	files, _ := hub.Files(roomID)
	assert.Contains(t, files, "keep.js")
}

func TestScheduleIsIdempotent(t *testing.T) {
	clock := &manualClock{}
	fired := 0
	s := NewScheduler(clock, time.Minute, func(string) { fired++ })
	assert.True(t, s.Schedule("r"))
	assert.False(t, s.Schedule("r"))
	assert.Equal(t, 1, s.Len())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, s.Len())
}

func TestStaleTimerDoesNotFire(t *testing.T) {
	clock := &manualClock{}
	var fired []string
	s := NewScheduler(clock, time.Minute, func(id string) { fired = append(fired, id) })
	s.Schedule("r")
	first := clock.timers[0]

	s.Cancel("r")
	s.Schedule("r")
	// the cancelled timer fires late anyway
	first.fn()
	assert.Empty(t, fired)
	assert.True(t, s.Pending("r"))

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"r"}, fired)
}

func TestReapSkipsRoomThatRegainedMembers(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	c, _ := hookedClient(t)
	_, _ = hub.Join(roomID, c, "ann")
	hub.reap(roomID)
	assert.True(t, hub.RoomExists(roomID))
}

func TestCodeChangeRelaysToOthersOnly(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, a, "ann")
	_, _ = hub.Join(roomID, b, "bob")
	capA.reset()
	capB.reset()

	require.NoError(t, hub.UpdateFile(roomID, a, "main.js", "console.log(2)"))

	assert.Empty(t, capA.ofType(models.EventCodeUpdate))
	updates := capB.ofType(models.EventCodeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, models.CodeUpdate{FileName: "main.js", Content: "console.log(2)"}, updates[0].Data)

	files, _ := hub.Files(roomID)
	assert.Equal(t, "console.log(2)", files["main.js"].Content)
}

func TestFileEventsReachWholeRoom(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, a, "ann")
	_, _ = hub.Join(roomID, b, "bob")
	capA.reset()
	capB.reset()

	_, err := hub.CreateFolder(roomID, "src")
	require.NoError(t, err)
	_, err = hub.CreateFile(roomID, "src/a.js", "a")
	require.NoError(t, err)
	renamed, err := hub.RenameItem(roomID, "src/a.js", "src/b.js")
	require.NoError(t, err)
	assert.True(t, renamed)
	require.NoError(t, hub.DeleteItem(roomID, "src"))

	want := []string{models.EventFolderCreated, models.EventFileCreated, models.EventItemRenamed, models.EventItemDeleted}
	for _, capture := range []*frameCapture{capA, capB} {
		var got []string
		for _, f := range capture.list() {
			got = append(got, f.Type)
		}
		assert.Equal(t, want, got)
	}

	files, _ := hub.Files(roomID)
	assert.NotContains(t, files, "src")
	assert.NotContains(t, files, "src/b.js")
}

func TestRenameMissingBroadcastsNothing(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	_, _ = hub.Join(roomID, a, "ann")
	capA.reset()

	ok, err := hub.RenameItem(roomID, "ghost.js", "real.js")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, capA.list())
}

func TestMutationsOnUnknownRoom(t *testing.T) {
	hub := newTestHub(&manualClock{})
	_, err := hub.CreateFile("nope", "a.js", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, hub.DeleteItem("nope", "a.js"), ErrRoomNotFound)
}

func TestStoreLazilyRecreated(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	hub.mu.Lock()
	delete(hub.files, roomID)
	hub.mu.Unlock()

	_, err := hub.CreateFile(roomID, "x.js", "x")
	require.NoError(t, err)
	files, _ := hub.Files(roomID)
	assert.Len(t, files, 1)
}

func TestCursorRelayCarriesSenderName(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	a, capA := hookedClient(t)
	b, capB := hookedClient(t)
	_, _ = hub.Join(roomID, a, "ann")
	_, _ = hub.Join(roomID, b, "bob")
	capA.reset()
	capB.reset()

	pos := json.RawMessage(`{"line":3,"column":7}`)
	require.NoError(t, hub.RelayCursor(roomID, a, "ann", pos))

	assert.Empty(t, capA.list())
	got := capB.ofType(models.EventCursorUpdate)
	require.Len(t, got, 1)
	cu := got[0].Data.(models.CursorUpdate)
	assert.Equal(t, a.ID, cu.UserID)
	assert.Equal(t, "ann", cu.UserName)
	assert.JSONEq(t, string(pos), string(cu.Position))
}

func TestStats(t *testing.T) {
	hub := newTestHub(&manualClock{})
	roomID := hub.CreateRoom()
	hub.CreateRoom()
	c, _ := hookedClient(t)
	_, _ = hub.Join(roomID, c, "ann")
	rooms, members := hub.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 1, members)
}
