package identity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/provisioner/internal/dependencies/random"
	"github.com/mcoot/provisioner/internal/model"
)

const (
	upperAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlphabet  = "abcdefghijklmnopqrstuvwxyz"
	digitAlphabet  = "0123456789"
	symbolAlphabet = "!@#$%^&*"

	// PasswordLength is the length of generated passwords
	PasswordLength = 12
	// MinBirthYear and MaxBirthYear bound generated birth years (inclusive)
	MinBirthYear = 1980
	MaxBirthYear = 2007
	// EmailSuffixRange bounds the numeric suffix appended to the email local part
	EmailSuffixRange = 9999
)

type weightedName struct {
	name   string
	weight int
}

var firstNames = []weightedName{
	{"James", 6}, {"John", 6}, {"Robert", 5}, {"Michael", 5},
	{"William", 4}, {"David", 4}, {"Richard", 3}, {"Joseph", 3},
	{"Mary", 6}, {"Patricia", 4}, {"Jennifer", 5}, {"Linda", 3},
	{"Elizabeth", 4}, {"Barbara", 2}, {"Susan", 3}, {"Jessica", 4},
	{"Thomas", 3}, {"Charles", 3}, {"Daniel", 4}, {"Matthew", 4},
	{"Nancy", 2}, {"Karen", 2}, {"Sandra", 2}, {"Carol", 1},
}

var lastNames = []weightedName{
	{"Smith", 8}, {"Johnson", 6}, {"Williams", 5}, {"Brown", 5},
	{"Jones", 5}, {"Garcia", 4}, {"Miller", 4}, {"Davis", 4},
	{"Rodriguez", 3}, {"Martinez", 3}, {"Wilson", 3}, {"Anderson", 3},
	{"Taylor", 3}, {"Thomas", 2}, {"Moore", 2}, {"Jackson", 2},
	{"Martin", 2}, {"Lee", 2}, {"Thompson", 2}, {"White", 2},
}

// Generator produces synthetic identities. It holds no state beyond its random source.
type Generator struct {
	random random.Random
}

// New creates a new Generator
func New(rnd random.Random) *Generator {
	return &Generator{random: rnd}
}

// ValidateDomain checks that domain can be used as an email domain
func ValidateDomain(domain string) error {
	switch {
	case domain == "":
		return model.NewError(model.KindValidation, "validate domain", fmt.Errorf("%w: domain is required", model.ErrInvalidRequest))
	case strings.ContainsAny(domain, "@ \t\n"):
		return model.NewError(model.KindValidation, "validate domain", fmt.Errorf("%w: domain %q must not contain '@' or whitespace", model.ErrInvalidRequest, domain))
	}
	return nil
}

// Generate produces one identity for domain
func (g *Generator) Generate(domain string) (model.Identity, error) {
	if err := ValidateDomain(domain); err != nil {
		return model.Identity{}, err
	}

	first := g.pickName(firstNames)
	last := g.pickName(lastNames)
	local := strings.ToLower(first) + strings.ToLower(last) + strconv.Itoa(g.random.Intn(EmailSuffixRange))

	return model.Identity{
		Email:     local + "@" + domain,
		Password:  g.password(),
		FirstName: first,
		LastName:  last,
		BirthDate: g.birthDate(),
		Domain:    domain,
	}, nil
}

// GenerateN produces n identities for domain with distinct emails
func (g *Generator) GenerateN(domain string, n int) ([]model.Identity, error) {
	if n < 0 {
		return nil, model.NewError(model.KindValidation, "generate identities", fmt.Errorf("%w: count must not be negative", model.ErrInvalidRequest))
	}
	out := make([]model.Identity, 0, n)
	seen := make(map[string]struct{}, n)
	for len(out) < n {
		id, err := g.Generate(domain)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id.Email]; dup {
			// Bump the suffix so a collision cannot loop forever on a fixed random source
			id.Email = strings.Replace(id.Email, "@", strconv.Itoa(len(out))+"@", 1)
			if _, dup := seen[id.Email]; dup {
				continue
			}
		}
		seen[id.Email] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (g *Generator) pickName(pool []weightedName) string {
	total := 0
	for _, n := range pool {
		total += n.weight
	}
	roll := g.random.Intn(total)
	for _, n := range pool {
		if roll < n.weight {
			return n.name
		}
		roll -= n.weight
	}
	return pool[len(pool)-1].name
}

func (g *Generator) birthDate() time.Time {
	year := MinBirthYear + g.random.Intn(MaxBirthYear-MinBirthYear+1)
	month := time.Month(1 + g.random.Intn(12))
	// Day 1-28 is valid in every month
	day := 1 + g.random.Intn(28)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// password always contains at least one upper, lower, digit and symbol
func (g *Generator) password() string {
	all := upperAlphabet + lowerAlphabet + digitAlphabet + symbolAlphabet
	chars := []byte{
		upperAlphabet[g.random.Intn(len(upperAlphabet))],
		lowerAlphabet[g.random.Intn(len(lowerAlphabet))],
		digitAlphabet[g.random.Intn(len(digitAlphabet))],
		symbolAlphabet[g.random.Intn(len(symbolAlphabet))],
	}
	for len(chars) < PasswordLength {
		chars = append(chars, all[g.random.Intn(len(all))])
	}
	for i := len(chars) - 1; i > 0; i-- {
		j := g.random.Intn(i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}
