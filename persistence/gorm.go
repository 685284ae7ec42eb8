package persistence

import (
	"errors"
	"fmt"

	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no DSN configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Room{}, &types.Membership{}, &types.MemberEvent{}, &types.Message{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func gormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(user *types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return gormErr(p.db.First(user).Error)
}

func (p *GormPersist) GetUserByEmail(email string) (*types.User, error) {
	user := &types.User{}
	err := p.db.Where("email = ?", email).First(user).Error
	if err != nil {
		return nil, gormErr(err)
	}
	return user, nil
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Find(&users).Error
	return users, err
}

func (p *GormPersist) TouchLastOnline(userIds []string) error {
	if len(userIds) == 0 {
		return nil
	}
	return p.db.Model(&types.User{}).Where("id IN ?", userIds).Update("last_online", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

func (p *GormPersist) StoreRoom(room *types.Room) error {
	return p.db.Omit("Owner").Clauses(clause.OnConflict{UpdateAll: true}).Create(room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return gormErr(p.db.Preload("Owner").First(room).Error)
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Preload("Owner").Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) GetRoomsForUser(userId string) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Joins("JOIN memberships ON memberships.room_id = rooms.id").
		Where("memberships.user_id = ?", userId).
		Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Delete(room).Error
}

func (p *GormPersist) TransferOwnership(roomId, newOwnerId string) error {
	res := p.db.Model(&types.Room{}).Where("id = ?", roomId).Update("owner_id", newOwnerId)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMembership inserts the (room, user) pair. A duplicate pair is a
// benign idempotent success reported via created=false, not an error.
func (p *GormPersist) CreateMembership(m *types.Membership) (bool, error) {
	res := p.db.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (p *GormPersist) GetMembership(roomId, userId string) (*types.Membership, error) {
	m := &types.Membership{}
	err := p.db.Where("room_id = ? AND user_id = ?", roomId, userId).First(m).Error
	if err != nil {
		return nil, gormErr(err)
	}
	return m, nil
}

func (p *GormPersist) GetMemberships(roomId string) ([]*types.Membership, error) {
	memberships := make([]*types.Membership, 0)
	err := p.db.Where("room_id = ?", roomId).Order("joined_at").Find(&memberships).Error
	return memberships, err
}

func (p *GormPersist) DeleteMembership(roomId, userId string) error {
	return p.db.Where("room_id = ? AND user_id = ?", roomId, userId).Delete(&types.Membership{}).Error
}

func (p *GormPersist) StoreMemberEvent(ev *types.MemberEvent) error {
	return p.db.Create(ev).Error
}

func (p *GormPersist) StoreMessage(msg *types.Message) error {
	return p.db.Create(msg).Error
}

func (p *GormPersist) GetMessageHistory(roomId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	// within one room created_at is strictly increasing (the dispatcher
	// serializes writes per room), id only keeps the order stable
	err := p.db.Where("room_id = ?", roomId).Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *GormPersist) Close() error {
	return nil
}
