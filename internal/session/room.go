package session

import (
	"time"

	"codesync/internal/models"
)

// Room holds membership, host designation and the connected clients of one
// collaborative session. It is only touched with the hub lock held.
type Room struct {
	ID        string
	CreatedAt time.Time
	HostID    string
	HostName  string

	users   []models.User
	clients map[string]*Client
}

func NewRoom(id string, createdAt time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: createdAt,
		clients:   make(map[string]*Client),
	}
}

// join adds the connection once and applies the host rule. A repeated join
// only refreshes the display name. It reports whether the connection was
// newly added.
func (r *Room) join(c *Client, name string, now time.Time) bool {
	r.clients[c.ID] = c
	added := true
	for i, u := range r.users {
		if u.ID == c.ID {
			r.users[i].Name = name
			added = false
			break
		}
	}
	if added {
		r.users = append(r.users, models.User{ID: c.ID, Name: name, JoinedAt: now})
	}

	switch {
	case r.HostID == "":
		r.HostID = c.ID
		r.HostName = name
	case r.HostID == c.ID:
		r.HostName = name
	case name != "" && name == r.HostName:
		// host reconnecting under a new connection
		r.HostID = c.ID
	}
	return added
}

func (r *Room) leave(connID string) bool {
	delete(r.clients, connID)
	for i, u := range r.users {
		if u.ID == connID {
			r.users = append(r.users[:i:i], r.users[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) user(connID string) (models.User, bool) {
	for _, u := range r.users {
		if u.ID == connID {
			return u, true
		}
	}
	return models.User{}, false
}

func (r *Room) Users() []models.User {
	out := make([]models.User, len(r.users))
	copy(out, r.users)
	return out
}

func (r *Room) Empty() bool { return len(r.users) == 0 }

func (r *Room) Info() models.RoomInfo {
	return models.RoomInfo{
		ID:        r.ID,
		Users:     r.Users(),
		CreatedAt: r.CreatedAt,
		HostID:    r.HostID,
		HostName:  r.HostName,
	}
}

// broadcast queues frame for every client except exclude (may be nil).
func (r *Room) broadcast(exclude *Client, frame models.WSFrame) {
	for _, u := range r.users {
		c, ok := r.clients[u.ID]
		if !ok || c == exclude {
			continue
		}
		c.Send(frame)
	}
}
