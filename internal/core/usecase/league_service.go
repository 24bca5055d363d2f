package usecase

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/modelobserver/internal/core/domain"
	"github.com/atvirokodosprendimai/modelobserver/internal/core/ports"
)

// LeagueService runs the league operations whose side effects the ledgers
// observe.
type LeagueService struct {
	repo ports.LeagueRepository
}

func NewLeagueService(repo ports.LeagueRepository) *LeagueService {
	return &LeagueService{repo: repo}
}

func (s *LeagueService) FoundTeam(ctx context.Context, name string, supporters int) (domain.Team, error) {
	team := domain.Team{Name: name, Supporters: supporters}
	if err := team.Validate(); err != nil {
		return domain.Team{}, err
	}
	return s.repo.CreateTeam(ctx, team)
}

func (s *LeagueService) SignPlayer(ctx context.Context, teamID uint, firstName, lastName string, positions ...string) (domain.Player, error) {
	player := domain.Player{TeamID: teamID, FirstName: firstName, LastName: lastName, Positions: positions}
	if err := player.Validate(); err != nil {
		return domain.Player{}, err
	}
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return domain.Player{}, fmt.Errorf("sign player: team %d: %w", teamID, err)
	}
	return s.repo.CreatePlayer(ctx, player)
}

func (s *LeagueService) RenamePlayer(ctx context.Context, id uint, firstName, lastName string) (domain.Player, error) {
	player, err := s.repo.GetPlayer(ctx, id)
	if err != nil {
		return domain.Player{}, err
	}
	player.FirstName = firstName
	player.LastName = lastName
	if err := player.Validate(); err != nil {
		return domain.Player{}, err
	}
	return s.repo.UpdatePlayer(ctx, player)
}

func (s *LeagueService) TransferPlayer(ctx context.Context, id, teamID uint) (domain.Player, error) {
	player, err := s.repo.GetPlayer(ctx, id)
	if err != nil {
		return domain.Player{}, err
	}
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return domain.Player{}, fmt.Errorf("transfer player: team %d: %w", teamID, err)
	}
	player.TeamID = teamID
	return s.repo.UpdatePlayer(ctx, player)
}

func (s *LeagueService) ReleasePlayer(ctx context.Context, id uint) error {
	deleted, err := s.repo.DeletePlayer(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

// DisbandTeam deletes the team together with its players and returns the
// number of released players.
func (s *LeagueService) DisbandTeam(ctx context.Context, id uint) (int64, error) {
	return s.repo.DeleteTeam(ctx, id)
}

func (s *LeagueService) Roster(ctx context.Context, teamID uint) ([]domain.Player, error) {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.repo.ListPlayers(ctx, teamID)
}
