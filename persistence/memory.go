package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/pingme/pingme/types"
)

// MemoryPersist is an in-memory Persister for tests and throwaway dev runs.
// It honors the same contracts as the durable backends, in particular the
// idempotent membership creation and newest-first message history.
type MemoryPersist struct {
	mu           sync.RWMutex
	users        map[string]*types.User
	usersByEmail map[string]string
	rooms        map[string]*types.Room
	memberships  map[string]map[string]*types.Membership // room id -> user id
	events       []*types.MemberEvent
	messages     map[string][]*types.Message // room id, insertion order
}

func NewMemoryPersister() *MemoryPersist {
	return &MemoryPersist{
		users:        make(map[string]*types.User),
		usersByEmail: make(map[string]string),
		rooms:        make(map[string]*types.Room),
		memberships:  make(map[string]map[string]*types.Membership),
		messages:     make(map[string][]*types.Message),
	}
}

func (p *MemoryPersist) StoreUser(user *types.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := *user
	p.users[user.Id] = &u
	p.usersByEmail[user.Email] = user.Id
	return nil
}

func (p *MemoryPersist) GetUser(user *types.User) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[user.Id]
	if !ok {
		return ErrNotFound
	}
	*user = *u
	return nil
}

func (p *MemoryPersist) GetUserByEmail(email string) (*types.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := *p.users[id]
	return &u, nil
}

func (p *MemoryPersist) GetUsers() ([]*types.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]*types.User, 0, len(p.users))
	for _, u := range p.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (p *MemoryPersist) TouchLastOnline(userIds []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, id := range userIds {
		if u, ok := p.users[id]; ok {
			u.LastOnline = now
		}
	}
	return nil
}

func (p *MemoryPersist) StoreRoom(room *types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := *room
	r.Owner = nil
	p.rooms[room.Id] = &r
	return nil
}

func (p *MemoryPersist) GetRoom(room *types.Room) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rooms[room.Id]
	if !ok {
		return ErrNotFound
	}
	*room = *r
	if room.OwnerId != nil {
		if owner, ok := p.users[*room.OwnerId]; ok {
			o := *owner
			room.Owner = &o
		}
	}
	return nil
}

func (p *MemoryPersist) GetRooms() ([]*types.Room, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rooms := make([]*types.Room, 0, len(p.rooms))
	for _, r := range p.rooms {
		c := *r
		rooms = append(rooms, &c)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Id < rooms[j].Id })
	return rooms, nil
}

func (p *MemoryPersist) GetRoomsForUser(userId string) ([]*types.Room, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rooms := make([]*types.Room, 0)
	for roomId, members := range p.memberships {
		if _, ok := members[userId]; !ok {
			continue
		}
		if r, ok := p.rooms[roomId]; ok {
			c := *r
			rooms = append(rooms, &c)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Id < rooms[j].Id })
	return rooms, nil
}

func (p *MemoryPersist) DeleteRoom(room *types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, room.Id)
	delete(p.memberships, room.Id)
	return nil
}

func (p *MemoryPersist) TransferOwnership(roomId, newOwnerId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	owner := newOwnerId
	r.OwnerId = &owner
	return nil
}

func (p *MemoryPersist) CreateMembership(m *types.Membership) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.memberships[m.RoomId]
	if !ok {
		members = make(map[string]*types.Membership)
		p.memberships[m.RoomId] = members
	}
	if _, ok := members[m.UserId]; ok {
		return false, nil
	}
	c := *m
	members[m.UserId] = &c
	return true, nil
}

func (p *MemoryPersist) GetMembership(roomId, userId string) (*types.Membership, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.memberships[roomId][userId]; ok {
		c := *m
		return &c, nil
	}
	return nil, ErrNotFound
}

func (p *MemoryPersist) GetMemberships(roomId string) ([]*types.Membership, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	memberships := make([]*types.Membership, 0, len(p.memberships[roomId]))
	for _, m := range p.memberships[roomId] {
		c := *m
		memberships = append(memberships, &c)
	}
	sort.Slice(memberships, func(i, j int) bool {
		return memberships[i].JoinedAt.Before(memberships[j].JoinedAt)
	})
	return memberships, nil
}

func (p *MemoryPersist) DeleteMembership(roomId, userId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.memberships[roomId], userId)
	return nil
}

func (p *MemoryPersist) StoreMemberEvent(ev *types.MemberEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *ev
	c.Id = uint(len(p.events) + 1)
	p.events = append(p.events, &c)
	return nil
}

// MemberEvents returns a copy of the audit log, oldest first. Test helper,
// not part of the Persister interface.
func (p *MemoryPersist) MemberEvents() []*types.MemberEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	events := make([]*types.MemberEvent, len(p.events))
	copy(events, p.events)
	return events
}

func (p *MemoryPersist) StoreMessage(msg *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *msg
	p.messages[msg.RoomId] = append(p.messages[msg.RoomId], &c)
	return nil
}

func (p *MemoryPersist) GetMessageHistory(roomId string, limit int) ([]*types.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	all := p.messages[roomId]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	messages := make([]*types.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(messages) < limit; i-- {
		c := *all[i]
		messages = append(messages, &c)
	}
	return messages, nil
}

func (p *MemoryPersist) Close() error {
	return nil
}
