package usecase

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/modelobserver/internal/core/domain"
)

type League struct {
	DreamTeam domain.Team
	EmptyTeam domain.Team
}

type seedTeam struct {
	name       string
	supporters int
	players    []string
}

var seedTeams = []seedTeam{
	{name: "Dream Team", supporters: 58000, players: []string{"Mario Rossi", "Mario Verdi", "Mario Gialli"}},
	{name: "Empty Team", supporters: 7500},
}

// SeedLeague creates the Dream Team with three players and an Empty Team
// without players.
func SeedLeague(ctx context.Context, svc *LeagueService) (League, error) {
	var teams []domain.Team
	for _, st := range seedTeams {
		team, err := svc.FoundTeam(ctx, st.name, st.supporters)
		if err != nil {
			return League{}, fmt.Errorf("seed team %q: %w", st.name, err)
		}
		for _, full := range st.players {
			first, last, err := domain.SplitFullName(full)
			if err != nil {
				return League{}, fmt.Errorf("seed player %q: %w", full, err)
			}
			if _, err := svc.SignPlayer(ctx, team.ID, first, last); err != nil {
				return League{}, fmt.Errorf("seed player %q: %w", full, err)
			}
		}
		teams = append(teams, team)
	}
	return League{DreamTeam: teams[0], EmptyTeam: teams[1]}, nil
}

// Exhibition records what PlayExhibition did.
type Exhibition struct {
	Signed   []domain.Player
	NewTeam  domain.Team
	Renamed  domain.Player
	Moved    domain.Player
	Released domain.Player
}

// PlayExhibition signs three players, founds one team, disbands the empty
// team, renames the first signing, transfers the second to the new team and
// releases the third. Observed players end at created=3 updated=2 deleted=1,
// teams at created=1 deleted=1.
func PlayExhibition(ctx context.Context, svc *LeagueService, league League) (Exhibition, error) {
	var ex Exhibition
	for _, name := range [][2]string{{"Alberto", "Bianco"}, {"Carlo", "Dini"}, {"Enzo", "Ferri"}} {
		p, err := svc.SignPlayer(ctx, league.DreamTeam.ID, name[0], name[1])
		if err != nil {
			return Exhibition{}, fmt.Errorf("sign %s %s: %w", name[0], name[1], err)
		}
		ex.Signed = append(ex.Signed, p)
	}

	team, err := svc.FoundTeam(ctx, "Other Team", 400)
	if err != nil {
		return Exhibition{}, fmt.Errorf("found team: %w", err)
	}
	ex.NewTeam = team

	if _, err := svc.DisbandTeam(ctx, league.EmptyTeam.ID); err != nil {
		return Exhibition{}, fmt.Errorf("disband %q: %w", league.EmptyTeam.Name, err)
	}

	first := ex.Signed[0]
	if ex.Renamed, err = svc.RenamePlayer(ctx, first.ID, "Mario", first.LastName); err != nil {
		return Exhibition{}, fmt.Errorf("rename player %d: %w", first.ID, err)
	}
	if ex.Moved, err = svc.TransferPlayer(ctx, ex.Signed[1].ID, team.ID); err != nil {
		return Exhibition{}, fmt.Errorf("transfer player %d: %w", ex.Signed[1].ID, err)
	}
	ex.Released = ex.Signed[2]
	if err := svc.ReleasePlayer(ctx, ex.Released.ID); err != nil {
		return Exhibition{}, fmt.Errorf("release player %d: %w", ex.Released.ID, err)
	}
	return ex, nil
}
