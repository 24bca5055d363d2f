package ports

import (
	"context"

	"github.com/atvirokodosprendimai/modelobserver/internal/core/domain"
)

type LeagueRepository interface {
	CreateTeam(ctx context.Context, team domain.Team) (domain.Team, error)
	GetTeam(ctx context.Context, id uint) (domain.Team, error)
	FindTeam(ctx context.Context, name string) (domain.Team, error)
	// DeleteTeam removes the team and its players and returns how many
	// players were removed.
	DeleteTeam(ctx context.Context, id uint) (int64, error)

	CreatePlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	GetPlayer(ctx context.Context, id uint) (domain.Player, error)
	FindPlayer(ctx context.Context, firstName, lastName string) (domain.Player, error)
	UpdatePlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	DeletePlayer(ctx context.Context, id uint) (bool, error)
	ListPlayers(ctx context.Context, teamID uint) ([]domain.Player, error)
}
