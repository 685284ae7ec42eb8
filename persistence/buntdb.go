package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/types"
	"github.com/tidwall/buntdb"
)

// Key layout:
//
//	user:<id>                user json
//	useremail:<email>        user id
//	room:<id>                room json
//	member:<room>:<user>     membership json
//	memberevent:<seq>        member event json
//	message:<room>:<id>      message json (indexed on "created" per room pattern)
type BuntDBPersist struct {
	db *buntdb.DB
}

// The wire structs hide PasswordHash and OwnerId from API responses via
// json:"-", which would drop them from a straight marshal. The store keeps
// its own representation with every field.
type storedUser struct {
	Id           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	IsActive     bool      `json:"is_active"`
	LastOnline   time.Time `json:"last_online"`
	CreatedAt    time.Time `json:"created_at"`
}

func toStoredUser(u *types.User) storedUser {
	return storedUser{
		Id:           u.Id,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		LastOnline:   u.LastOnline,
		CreatedAt:    u.CreatedAt,
	}
}

func (s storedUser) user() *types.User {
	return &types.User{
		Id:           s.Id,
		Email:        s.Email,
		Name:         s.Name,
		PasswordHash: s.PasswordHash,
		IsActive:     s.IsActive,
		LastOnline:   s.LastOnline,
		CreatedAt:    s.CreatedAt,
	}
}

type storedRoom struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerId   *string   `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toStoredRoom(r *types.Room) storedRoom {
	return storedRoom{Id: r.Id, Name: r.Name, OwnerId: r.OwnerId, CreatedAt: r.CreatedAt}
}

func (s storedRoom) room() *types.Room {
	return &types.Room{Id: s.Id, Name: s.Name, OwnerId: s.OwnerId, CreatedAt: s.CreatedAt}
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no buntdb file configured")
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("messagets", "message:*", buntdb.IndexJSON("created"))
	if err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func buntErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(data), nil)
		return err
	})
}

func (p *BuntDBPersist) getJSON(key string, v interface{}) error {
	err := p.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), v)
	})
	return buntErr(err)
}

func (p *BuntDBPersist) StoreUser(user *types.User) error {
	data, err := json.Marshal(toStoredUser(user))
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set("user:"+user.Id, string(data), nil); err != nil {
			return err
		}
		_, _, err := tx.Set("useremail:"+user.Email, user.Id, nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	stored := storedUser{}
	if err := p.getJSON("user:"+user.Id, &stored); err != nil {
		return err
	}
	*user = *stored.user()
	return nil
}

func (p *BuntDBPersist) GetUserByEmail(email string) (*types.User, error) {
	stored := storedUser{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("useremail:" + email)
		if err != nil {
			return err
		}
		raw, err := tx.Get("user:" + id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &stored)
	})
	if err != nil {
		return nil, buntErr(err)
	}
	return stored.user(), nil
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			stored := storedUser{}
			if err := json.Unmarshal([]byte(val), &stored); err == nil {
				users = append(users, stored.user())
			}
			return true
		})
	})
	return users, err
}

func (p *BuntDBPersist) TouchLastOnline(userIds []string) error {
	now := time.Now()
	for _, id := range userIds {
		user := &types.User{Id: id}
		if err := p.GetUser(user); err != nil {
			if err == ErrNotFound {
				continue
			}
			return err
		}
		user.LastOnline = now
		if err := p.StoreUser(user); err != nil {
			return err
		}
	}
	return nil
}

func (p *BuntDBPersist) StoreRoom(room *types.Room) error {
	return p.setJSON("room:"+room.Id, toStoredRoom(room))
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return fmt.Errorf("no room id")
	}
	stored := storedRoom{}
	if err := p.getJSON("room:"+room.Id, &stored); err != nil {
		return err
	}
	*room = *stored.room()
	if room.OwnerId != nil {
		owner := &types.User{Id: *room.OwnerId}
		if err := p.GetUser(owner); err == nil {
			room.Owner = owner
		}
	}
	return nil
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("room:*", func(key, val string) bool {
			stored := storedRoom{}
			if err := json.Unmarshal([]byte(val), &stored); err == nil {
				rooms = append(rooms, stored.room())
			}
			return true
		})
	})
	return rooms, err
}

func (p *BuntDBPersist) GetRoomsForUser(userId string) ([]*types.Room, error) {
	roomIds := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("member:*", func(key, val string) bool {
			parts := strings.SplitN(key, ":", 3)
			if len(parts) == 3 && parts[2] == userId {
				roomIds = append(roomIds, parts[1])
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	rooms := make([]*types.Room, 0, len(roomIds))
	for _, id := range roomIds {
		room := &types.Room{Id: id}
		if err := p.GetRoom(room); err == nil {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("room:" + room.Id)
		return buntErr(err)
	})
}

func (p *BuntDBPersist) TransferOwnership(roomId, newOwnerId string) error {
	room := &types.Room{Id: roomId}
	if err := p.GetRoom(room); err != nil {
		return err
	}
	room.OwnerId = &newOwnerId
	room.Owner = nil
	return p.StoreRoom(room)
}

func (p *BuntDBPersist) CreateMembership(m *types.Membership) (bool, error) {
	key := "member:" + m.RoomId + ":" + m.UserId
	created := false
	data, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	err = p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(key); err == nil {
			return nil // duplicate pair, benign no-op
		} else if err != buntdb.ErrNotFound {
			return err
		}
		if _, _, err := tx.Set(key, string(data), nil); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (p *BuntDBPersist) GetMembership(roomId, userId string) (*types.Membership, error) {
	m := &types.Membership{}
	if err := p.getJSON("member:"+roomId+":"+userId, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *BuntDBPersist) GetMemberships(roomId string) ([]*types.Membership, error) {
	memberships := make([]*types.Membership, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("member:"+roomId+":*", func(key, val string) bool {
			m := &types.Membership{}
			if err := json.Unmarshal([]byte(val), m); err == nil {
				memberships = append(memberships, m)
			}
			return true
		})
	})
	return memberships, err
}

func (p *BuntDBPersist) DeleteMembership(roomId, userId string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("member:" + roomId + ":" + userId)
		return buntErr(err)
	})
}

func (p *BuntDBPersist) StoreMemberEvent(ev *types.MemberEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		seq, err := tx.Len()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("memberevent:%d:%d", time.Now().UnixNano(), seq)
		_, _, err = tx.Set(key, string(data), nil)
		return err
	})
}

func (p *BuntDBPersist) StoreMessage(msg *types.Message) error {
	return p.setJSON("message:"+msg.RoomId+":"+msg.Id, msg)
}

func (p *BuntDBPersist) GetMessageHistory(roomId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	prefix := "message:" + roomId + ":"
	err := p.db.View(func(tx *buntdb.Tx) error {
		count := 0
		return tx.Descend("messagets", func(key, val string) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err == nil {
				messages = append(messages, msg)
				count++
			}
			return limit <= 0 || count < limit
		})
	})
	if err != nil {
		globals.AppLogger.Error("could not read message history", "error", err)
		return nil, err
	}
	return messages, nil
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
