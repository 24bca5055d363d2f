package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/modelobserver/internal/core/domain"
)

type stubLeagueRepo struct {
	createTeamFn   func(ctx context.Context, team domain.Team) (domain.Team, error)
	getTeamFn      func(ctx context.Context, id uint) (domain.Team, error)
	deleteTeamFn   func(ctx context.Context, id uint) (int64, error)
	createPlayerFn func(ctx context.Context, player domain.Player) (domain.Player, error)
	getPlayerFn    func(ctx context.Context, id uint) (domain.Player, error)
	updatePlayerFn func(ctx context.Context, player domain.Player) (domain.Player, error)
	deletePlayerFn func(ctx context.Context, id uint) (bool, error)
	listPlayersFn  func(ctx context.Context, teamID uint) ([]domain.Player, error)
}

func (s *stubLeagueRepo) CreateTeam(ctx context.Context, team domain.Team) (domain.Team, error) {
	if s.createTeamFn != nil {
		return s.createTeamFn(ctx, team)
	}
	team.ID = 1
	return team, nil
}

func (s *stubLeagueRepo) GetTeam(ctx context.Context, id uint) (domain.Team, error) {
	if s.getTeamFn != nil {
		return s.getTeamFn(ctx, id)
	}
	return domain.Team{ID: id, Name: "Dream Team"}, nil
}

func (s *stubLeagueRepo) FindTeam(context.Context, string) (domain.Team, error) {
	return domain.Team{}, domain.ErrNotFound
}

func (s *stubLeagueRepo) DeleteTeam(ctx context.Context, id uint) (int64, error) {
	if s.deleteTeamFn != nil {
		return s.deleteTeamFn(ctx, id)
	}
	return 0, nil
}

func (s *stubLeagueRepo) CreatePlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	if s.createPlayerFn != nil {
		return s.createPlayerFn(ctx, player)
	}
	player.ID = 1
	return player, nil
}

func (s *stubLeagueRepo) GetPlayer(ctx context.Context, id uint) (domain.Player, error) {
	if s.getPlayerFn != nil {
		return s.getPlayerFn(ctx, id)
	}
	return domain.Player{ID: id, TeamID: 1, FirstName: "Mario", LastName: "Rossi"}, nil
}

func (s *stubLeagueRepo) FindPlayer(context.Context, string, string) (domain.Player, error) {
	return domain.Player{}, domain.ErrNotFound
}

func (s *stubLeagueRepo) UpdatePlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	if s.updatePlayerFn != nil {
		return s.updatePlayerFn(ctx, player)
	}
	return player, nil
}

func (s *stubLeagueRepo) DeletePlayer(ctx context.Context, id uint) (bool, error) {
	if s.deletePlayerFn != nil {
		return s.deletePlayerFn(ctx, id)
	}
	return true, nil
}

func (s *stubLeagueRepo) ListPlayers(ctx context.Context, teamID uint) ([]domain.Player, error) {
	if s.listPlayersFn != nil {
		return s.listPlayersFn(ctx, teamID)
	}
	return nil, nil
}

func TestLeagueServiceFoundTeamValidation(t *testing.T) {
	svc := NewLeagueService(&stubLeagueRepo{
		createTeamFn: func(context.Context, domain.Team) (domain.Team, error) {
			t.Fatal("expected create not to be called")
			return domain.Team{}, nil
		},
	})

	if _, err := svc.FoundTeam(context.Background(), "", 10); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := svc.FoundTeam(context.Background(), "Dream Team", -1); !errors.Is(err, domain.ErrInvalidSupporters) {
		t.Fatalf("expected invalid supporters, got %v", err)
	}
}

func TestLeagueServiceSignPlayerRequiresTeam(t *testing.T) {
	svc := NewLeagueService(&stubLeagueRepo{
		getTeamFn: func(context.Context, uint) (domain.Team, error) {
			return domain.Team{}, domain.ErrNotFound
		},
	})

	_, err := svc.SignPlayer(context.Background(), 9, "Mario", "Rossi")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLeagueServiceSignPlayerKeepsPositions(t *testing.T) {
	var created domain.Player
	svc := NewLeagueService(&stubLeagueRepo{
		createPlayerFn: func(_ context.Context, p domain.Player) (domain.Player, error) {
			created = p
			p.ID = 5
			return p, nil
		},
	})

	p, err := svc.SignPlayer(context.Background(), 1, "Mario", "Rossi", "Forward", "Wing")
	if err != nil {
		t.Fatalf("sign player: %v", err)
	}
	if p.ID != 5 || len(created.Positions) != 2 || created.Positions[1] != "Wing" {
		t.Fatalf("unexpected player: %+v", created)
	}
}

func TestLeagueServiceTransferPlayer(t *testing.T) {
	var updated domain.Player
	svc := NewLeagueService(&stubLeagueRepo{
		updatePlayerFn: func(_ context.Context, p domain.Player) (domain.Player, error) {
			updated = p
			return p, nil
		},
	})

	if _, err := svc.TransferPlayer(context.Background(), 3, 7); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.ID != 3 || updated.TeamID != 7 {
		t.Fatalf("unexpected update: %+v", updated)
	}
}

func TestLeagueServiceRenamePlayerValidation(t *testing.T) {
	svc := NewLeagueService(&stubLeagueRepo{
		updatePlayerFn: func(context.Context, domain.Player) (domain.Player, error) {
			t.Fatal("expected update not to be called")
			return domain.Player{}, nil
		},
	})

	if _, err := svc.RenamePlayer(context.Background(), 1, "Mario", " "); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestLeagueServiceReleaseMissingPlayer(t *testing.T) {
	svc := NewLeagueService(&stubLeagueRepo{
		deletePlayerFn: func(context.Context, uint) (bool, error) {
			return false, nil
		},
	})

	if err := svc.ReleasePlayer(context.Background(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPlayExhibitionOperations(t *testing.T) {
	var (
		nextPlayer uint
		created    []domain.Player
		updated    []domain.Player
		deleted    []uint
		disbanded  []uint
	)
	svc := NewLeagueService(&stubLeagueRepo{
		createTeamFn: func(_ context.Context, team domain.Team) (domain.Team, error) {
			team.ID = 3
			return team, nil
		},
		createPlayerFn: func(_ context.Context, p domain.Player) (domain.Player, error) {
			nextPlayer++
			p.ID = nextPlayer
			created = append(created, p)
			return p, nil
		},
		getPlayerFn: func(_ context.Context, id uint) (domain.Player, error) {
			return created[id-1], nil
		},
		updatePlayerFn: func(_ context.Context, p domain.Player) (domain.Player, error) {
			updated = append(updated, p)
			return p, nil
		},
		deletePlayerFn: func(_ context.Context, id uint) (bool, error) {
			deleted = append(deleted, id)
			return true, nil
		},
		deleteTeamFn: func(_ context.Context, id uint) (int64, error) {
			disbanded = append(disbanded, id)
			return 0, nil
		},
	})

	league := League{DreamTeam: domain.Team{ID: 1}, EmptyTeam: domain.Team{ID: 2, Name: "Empty Team"}}
	ex, err := PlayExhibition(context.Background(), svc, league)
	if err != nil {
		t.Fatalf("play exhibition: %v", err)
	}

	if len(created) != 3 || len(updated) != 2 || len(deleted) != 1 {
		t.Fatalf("unexpected operations: created=%d updated=%d deleted=%d", len(created), len(updated), len(deleted))
	}
	if len(disbanded) != 1 || disbanded[0] != 2 {
		t.Fatalf("unexpected disbanded teams: %v", disbanded)
	}
	if ex.Renamed.FirstName != "Mario" || ex.Moved.TeamID != 3 || ex.Released.ID != 3 {
		t.Fatalf("unexpected exhibition: %+v", ex)
	}
}
