package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codesync/internal/filetree"
	"codesync/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// JoinResult is what a newly joined connection needs to sync its view.
type JoinResult struct {
	Files  map[string]models.Node
	Users  []models.User
	HostID string
}

type Option func(*Hub)

// WithClock replaces the clock driving cleanup timers.
func WithClock(c Clock) Option { return func(h *Hub) { h.clock = c } }

func WithGracePeriod(d time.Duration) Option { return func(h *Hub) { h.grace = d } }

// WithRoomDeleted registers a callback invoked after a room is reaped.
func WithRoomDeleted(fn func(roomID string)) Option { return func(h *Hub) { h.onDelete = fn } }

// Hub is the room registry. It owns every room, each room's file tree and
// the cleanup scheduler. All mutations are serialized by one lock, and
// broadcasts are queued while it is held so every member sees the same order.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
	files map[string]*filetree.Store
	conns map[string]string // connection id -> room id

	log      *zap.Logger
	clock    Clock
	grace    time.Duration
	cleanup  *Scheduler
	onDelete func(roomID string)
	now      func() time.Time
	newID    func() string
}

func NewHub(log *zap.Logger, opts ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		rooms: make(map[string]*Room),
		files: make(map[string]*filetree.Store),
		conns: make(map[string]string),
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cleanup = NewScheduler(h.clock, h.grace, h.reap)
	return h
}

func (h *Hub) Scheduler() *Scheduler { return h.cleanup }

// CreateRoom registers an empty room with a seeded file tree.
func (h *Hub) CreateRoom() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.newID()
	for h.rooms[id] != nil {
		id = h.newID()
	}
	h.rooms[id] = NewRoom(id, h.now())
	h.files[id] = filetree.NewSeededStore()
	h.log.Info("room created", zap.String("roomId", id))
	return id
}

func (h *Hub) RoomExists(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[roomID]
	return ok
}

func (h *Hub) Room(roomID string) (models.RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return models.RoomInfo{}, false
	}
	return r.Info(), true
}

// Files returns a snapshot of the room's flat file mapping.
func (h *Hub) Files(roomID string) (map[string]models.Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		return nil, false
	}
	return h.storeLocked(roomID).Snapshot(), true
}

// RoomOf returns the room a connection is currently in.
func (h *Hub) RoomOf(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.conns[connID]
	return id, ok
}

// Join adds c to the room under userName, cancels any pending cleanup, sends
// the joiner its private files-sync and users-list, and tells the other
// members. A connection already in another room leaves it first.
func (h *Hub) Join(roomID string, c *Client, userName string) (JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	if prev, in := h.conns[c.ID]; in && prev != roomID {
		h.leaveLocked(prev, c.ID)
	}

	if h.cleanup.Cancel(roomID) {
		h.log.Info("cleanup cancelled, user rejoined", zap.String("roomId", roomID))
	}

	added := room.join(c, userName, h.now())
	h.conns[c.ID] = roomID

	res := JoinResult{
		Files:  h.storeLocked(roomID).Snapshot(),
		Users:  room.Users(),
		HostID: room.HostID,
	}

	c.Send(models.WSFrame{Type: models.EventFilesSync, Data: res.Files})
	c.Send(models.WSFrame{Type: models.EventUsersList, Data: models.UsersList{Users: res.Users, HostID: res.HostID}})
	if added {
		me, _ := room.user(c.ID)
		room.broadcast(c, models.WSFrame{Type: models.EventUserJoined, Data: models.UserJoined{
			User: me, Users: res.Users, HostID: res.HostID,
		}})
	}

	h.log.Info("user joined",
		zap.String("roomId", roomID),
		zap.String("userName", userName),
		zap.Int("users", len(res.Users)))
	return res, nil
}

// Leave removes the connection from roomID. It reports whether it was a
// member.
func (h *Hub) Leave(roomID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[connID] != roomID {
		return false
	}
	return h.leaveLocked(roomID, connID)
}

// Disconnect removes the connection from whatever room it is in. Unknown
// connections are ignored.
func (h *Hub) Disconnect(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.conns[connID]
	if !ok {
		return false
	}
	return h.leaveLocked(roomID, connID)
}

func (h *Hub) leaveLocked(roomID, connID string) bool {
	delete(h.conns, connID)
	room, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	u, _ := room.user(connID)
	if !room.leave(connID) {
		return false
	}
	room.broadcast(nil, models.WSFrame{Type: models.EventUserLeft, Data: models.UserLeft{
		UserID: connID, Users: room.Users(), HostID: room.HostID,
	}})
	h.log.Info("user left",
		zap.String("roomId", roomID),
		zap.String("userName", u.Name),
		zap.Int("users", len(room.users)))

	if room.Empty() && h.cleanup.Schedule(roomID) {
		h.log.Info("room empty, cleanup scheduled", zap.String("roomId", roomID))
	}
	return true
}

// reap deletes the room if it is still empty when its grace timer fires.
func (h *Hub) reap(roomID string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok || !room.Empty() {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, roomID)
	delete(h.files, roomID)
	h.mu.Unlock()

	h.log.Info("room deleted after grace period", zap.String("roomId", roomID))
	if h.onDelete != nil {
		h.onDelete(roomID)
	}
}

// storeLocked returns the room's store, creating an empty one if missing.
func (h *Hub) storeLocked(roomID string) *filetree.Store {
	s, ok := h.files[roomID]
	if !ok {
		s = filetree.NewStore()
		h.files[roomID] = s
	}
	return s
}

// mutate runs fn against the room's store and, if fn returns a frame,
// broadcasts it to every member except exclude.
func (h *Hub) mutate(roomID string, exclude *Client, fn func(*filetree.Store) (models.WSFrame, bool)) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return false, ErrRoomNotFound
	}
	frame, send := fn(h.storeLocked(roomID))
	if send {
		room.broadcast(exclude, frame)
	}
	return send, nil
}

// UpdateFile applies a code-change and relays it to everyone but sender.
// The relay happens even when fileName does not name a file.
func (h *Hub) UpdateFile(roomID string, sender *Client, fileName, content string) error {
	_, err := h.mutate(roomID, sender, func(s *filetree.Store) (models.WSFrame, bool) {
		s.UpdateFileContent(fileName, content)
		return models.WSFrame{Type: models.EventCodeUpdate, Data: models.CodeUpdate{FileName: fileName, Content: content}}, true
	})
	return err
}

func (h *Hub) CreateFile(roomID, path, content string) (models.Node, error) {
	var node models.Node
	_, err := h.mutate(roomID, nil, func(s *filetree.Store) (models.WSFrame, bool) {
		node = s.CreateFile(path, content)
		return models.WSFrame{Type: models.EventFileCreated, Data: models.FileCreated{FileName: path, File: node}}, true
	})
	return node, err
}

func (h *Hub) CreateFolder(roomID, path string) (models.Node, error) {
	var node models.Node
	_, err := h.mutate(roomID, nil, func(s *filetree.Store) (models.WSFrame, bool) {
		node = s.CreateFolder(path)
		return models.WSFrame{Type: models.EventFolderCreated, Data: models.FolderCreated{FolderName: path, Folder: node}}, true
	})
	return node, err
}

// DeleteItem removes path and its descendants; item-deleted is broadcast
// whether or not anything existed there.
func (h *Hub) DeleteItem(roomID, path string) error {
	_, err := h.mutate(roomID, nil, func(s *filetree.Store) (models.WSFrame, bool) {
		s.DeleteItem(path)
		return models.WSFrame{Type: models.EventItemDeleted, Data: models.ItemDeleted{Path: path}}, true
	})
	return err
}

// RenameItem reports false, and broadcasts nothing, when oldPath is absent.
func (h *Hub) RenameItem(roomID, oldPath, newPath string) (bool, error) {
	return h.mutate(roomID, nil, func(s *filetree.Store) (models.WSFrame, bool) {
		if !s.RenameItem(oldPath, newPath) {
			return models.WSFrame{}, false
		}
		return models.WSFrame{Type: models.EventItemRenamed, Data: models.ItemRenamed{OldPath: oldPath, NewPath: newPath}}, true
	})
}

// RelayCursor forwards a cursor position, annotated with the sender's name.
func (h *Hub) RelayCursor(roomID string, sender *Client, userName string, position []byte) error {
	_, err := h.mutate(roomID, sender, func(*filetree.Store) (models.WSFrame, bool) {
		return models.WSFrame{Type: models.EventCursorUpdate, Data: models.CursorUpdate{
			UserID: sender.ID, UserName: userName, Position: position,
		}}, true
	})
	return err
}

// Broadcast sends frame to every member except exclude (may be nil).
func (h *Hub) Broadcast(roomID string, frame models.WSFrame, exclude *Client) error {
	_, err := h.mutate(roomID, exclude, func(*filetree.Store) (models.WSFrame, bool) { return frame, true })
	return err
}

// Stats reports the number of rooms and connected members.
func (h *Hub) Stats() (rooms, members int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms), len(h.conns)
}

// Close stops every pending cleanup timer.
func (h *Hub) Close() { h.cleanup.Stop() }
