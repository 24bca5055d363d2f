package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/modelobserver/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/modelobserver/internal/core/domain"
	"github.com/atvirokodosprendimai/modelobserver/observer"
)

// Team and Player are the gorm models of the league schema. Ledgers observe
// these types, so their names double as entity names.
type Team struct {
	ID         uint     `gorm:"column:id;primaryKey"`
	Name       string   `gorm:"column:name;not null"`
	Supporters int      `gorm:"column:supporters;not null"`
	Players    []Player `gorm:"foreignKey:TeamID"`
}

func (Team) TableName() string {
	return "teams"
}

type Player struct {
	ID        uint     `gorm:"column:id;primaryKey"`
	TeamID    uint     `gorm:"column:team_id;not null"`
	FirstName string   `gorm:"column:first_name;not null"`
	LastName  string   `gorm:"column:last_name;not null"`
	Positions []string `gorm:"column:positions;serializer:json"`
}

func (Player) TableName() string {
	return "players"
}

// Entities lists the observable league models.
func Entities() []observer.EntityType {
	return []observer.EntityType{observer.TypeOf[Team](), observer.TypeOf[Player]()}
}

type LeagueRepository struct {
	db *gormsqlite.DB
}

func NewLeagueRepository(db *gormsqlite.DB) *LeagueRepository {
	return &LeagueRepository{db: db}
}

func (r *LeagueRepository) CreateTeam(ctx context.Context, team domain.Team) (domain.Team, error) {
	model := Team{Name: team.Name, Supporters: team.Supporters}
	if err := r.db.W.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Team{}, fmt.Errorf("create team: %w", err)
	}
	return teamToDomain(model), nil
}

func (r *LeagueRepository) GetTeam(ctx context.Context, id uint) (domain.Team, error) {
	var model Team
	err := r.db.R.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Team{}, domain.ErrNotFound
		}
		return domain.Team{}, fmt.Errorf("get team: %w", err)
	}
	return teamToDomain(model), nil
}

func (r *LeagueRepository) FindTeam(ctx context.Context, name string) (domain.Team, error) {
	var model Team
	err := r.db.R.WithContext(ctx).Where("name = ?", name).Order("id ASC").First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Team{}, domain.ErrNotFound
		}
		return domain.Team{}, fmt.Errorf("find team: %w", err)
	}
	return teamToDomain(model), nil
}

// DeleteTeam deletes the players through the association so that every
// player row goes through the delete callbacks.
func (r *LeagueRepository) DeleteTeam(ctx context.Context, id uint) (int64, error) {
	var removed int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Model(&Player{}).Where("team_id = ?", id).Count(&removed).Error; err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		res := tx.Select("Players").Delete(&Team{ID: id})
		if res.Error != nil {
			return fmt.Errorf("delete team: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *LeagueRepository) CreatePlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	model := playerToModel(player)
	model.ID = 0
	if err := r.db.W.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Player{}, fmt.Errorf("create player: %w", err)
	}
	return playerToDomain(model), nil
}

func (r *LeagueRepository) GetPlayer(ctx context.Context, id uint) (domain.Player, error) {
	var model Player
	err := r.db.R.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Player{}, domain.ErrNotFound
		}
		return domain.Player{}, fmt.Errorf("get player: %w", err)
	}
	return playerToDomain(model), nil
}

func (r *LeagueRepository) FindPlayer(ctx context.Context, firstName, lastName string) (domain.Player, error) {
	var model Player
	err := r.db.R.WithContext(ctx).
		Where("first_name = ? AND last_name = ?", firstName, lastName).
		Order("id ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Player{}, domain.ErrNotFound
		}
		return domain.Player{}, fmt.Errorf("find player: %w", err)
	}
	return playerToDomain(model), nil
}

func (r *LeagueRepository) UpdatePlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	model := playerToModel(player)
	res := r.db.W.WithContext(ctx).
		Model(&model).
		Select("team_id", "first_name", "last_name", "positions").
		Updates(&model)
	if res.Error != nil {
		return domain.Player{}, fmt.Errorf("update player: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Player{}, domain.ErrNotFound
	}
	return playerToDomain(model), nil
}

func (r *LeagueRepository) DeletePlayer(ctx context.Context, id uint) (bool, error) {
	res := r.db.W.WithContext(ctx).Delete(&Player{ID: id})
	if res.Error != nil {
		return false, fmt.Errorf("delete player: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *LeagueRepository) ListPlayers(ctx context.Context, teamID uint) ([]domain.Player, error) {
	var models []Player
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("team_id = ?", teamID).Order("id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]domain.Player, 0, len(models))
	for _, model := range models {
		players = append(players, playerToDomain(model))
	}
	return players, nil
}

func teamToDomain(model Team) domain.Team {
	return domain.Team{ID: model.ID, Name: model.Name, Supporters: model.Supporters}
}

func playerToModel(player domain.Player) Player {
	return Player{
		ID:        player.ID,
		TeamID:    player.TeamID,
		FirstName: player.FirstName,
		LastName:  player.LastName,
		Positions: append([]string{}, player.Positions...),
	}
}

func playerToDomain(model Player) domain.Player {
	return domain.Player{
		ID:        model.ID,
		TeamID:    model.TeamID,
		FirstName: model.FirstName,
		LastName:  model.LastName,
		Positions: append([]string(nil), model.Positions...),
	}
}
