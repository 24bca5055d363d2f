package domain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidSupporters = errors.New("invalid supporters")
	ErrNotFound          = errors.New("not found")
)

const maxNameLength = 50

var namePattern = regexp.MustCompile(`^[\p{L}0-9 .'-]+$`)

type Team struct {
	ID         uint
	Name       string
	Supporters int
}

func (t Team) Validate() error {
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if t.Supporters < 0 {
		return ErrInvalidSupporters
	}
	return nil
}

type Player struct {
	ID        uint
	TeamID    uint
	FirstName string
	LastName  string
	Positions []string
}

func (p Player) Validate() error {
	if err := ValidateName(p.FirstName); err != nil {
		return err
	}
	return ValidateName(p.LastName)
}

func (p Player) FullName() string {
	return p.FirstName + " " + p.LastName
}

func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// SplitFullName splits "Mario Rossi" into its first and last name.
func SplitFullName(full string) (string, string, error) {
	first, last, ok := strings.Cut(strings.TrimSpace(full), " ")
	if !ok {
		return "", "", ErrInvalidName
	}
	last = strings.TrimSpace(last)
	if err := ValidateName(first); err != nil {
		return "", "", err
	}
	if err := ValidateName(last); err != nil {
		return "", "", err
	}
	return first, last, nil
}
