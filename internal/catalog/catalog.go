// Package catalog holds the immutable persona and scenario tables used by
// matchmaking. A Catalog is loaded once at startup, either from the embedded
// default or from a TOML file, and injected into the services that need it.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

//go:embed default_catalog.toml
var defaultCatalog string

// Rand is the subset of *rand.Rand (math/rand/v2) the catalog draws from.
type Rand interface {
	IntN(n int) int
}

// RolePair is a two-sided scenario. Index 0 and 1 of each slice describe the
// two sides; which participant gets which side is decided per match.
type RolePair struct {
	ID           string   `toml:"id"`
	Topic        string   `toml:"topic"`
	Roles        []string `toml:"roles"`
	Icons        []string `toml:"icons"`
	Descriptions []string `toml:"descriptions"`
}

type file struct {
	CasualTopics []string         `toml:"casual_topics"`
	Personas     []domain.Persona `toml:"persona"`
	RolePairs    []RolePair       `toml:"role_pair"`
}

// Catalog is read-only after Load; every accessor returns copies.
type Catalog struct {
	personas []domain.Persona
	byID     map[string]int
	pairs    []RolePair
	topics   []string
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse([]byte(defaultCatalog))
}

// MustDefault is Default for callers that cannot recover, mainly tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a TOML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	f.normalize()
	if err := f.validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		personas: f.Personas,
		byID:     make(map[string]int, len(f.Personas)),
		pairs:    f.RolePairs,
		topics:   f.CasualTopics,
	}
	for i, p := range f.Personas {
		c.byID[p.ID] = i
	}
	return c, nil
}

func (f *file) normalize() {
	for i := range f.Personas {
		p := &f.Personas[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		p.Style = strings.TrimSpace(p.Style)
		p.Prompt = strings.TrimSpace(p.Prompt)
	}
	topics := f.CasualTopics[:0]
	for _, t := range f.CasualTopics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	f.CasualTopics = topics
}

func (f *file) validate() error {
	var errs []error
	if len(f.Personas) == 0 {
		errs = append(errs, errors.New("catalog: at least one persona is required"))
	}
	seen := make(map[string]bool, len(f.Personas))
	for i, p := range f.Personas {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("catalog: persona #%d has no id", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("catalog: duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Name == "" || p.Prompt == "" {
			errs = append(errs, fmt.Errorf("catalog: persona %q needs a name and a prompt", p.ID))
		}
	}
	if len(f.RolePairs) == 0 {
		errs = append(errs, errors.New("catalog: at least one role_pair is required"))
	}
	for _, rp := range f.RolePairs {
		if len(rp.Roles) != 2 || len(rp.Icons) != 2 || len(rp.Descriptions) != 2 {
			errs = append(errs, fmt.Errorf("catalog: role_pair %q must list exactly two roles, icons and descriptions", rp.ID))
		}
		if strings.TrimSpace(rp.Topic) == "" {
			errs = append(errs, fmt.Errorf("catalog: role_pair %q has no topic", rp.ID))
		}
	}
	if len(f.CasualTopics) == 0 {
		errs = append(errs, errors.New("catalog: casual_topics must not be empty"))
	}
	return errors.Join(errs...)
}

// Personas returns every persona in catalog order.
func (c *Catalog) Personas() []domain.Persona {
	return slices.Clone(c.personas)
}

// Persona looks up a persona by id.
func (c *Catalog) Persona(id string) (domain.Persona, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Persona{}, false
	}
	return c.personas[i], true
}

// PickPersona draws a persona whose id is not in recent. When every persona
// is recent the whole table is eligible again.
func (c *Catalog) PickPersona(r Rand, recent []string) domain.Persona {
	pool := make([]domain.Persona, 0, len(c.personas))
	for _, p := range c.personas {
		if !slices.Contains(recent, p.ID) {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		pool = c.personas
	}
	return pool[r.IntN(len(pool))]
}

// PickRoles draws a role pair and a side assignment. Player 1 is the host.
func (c *Catalog) PickRoles(r Rand) *domain.RoleData {
	rp := c.pairs[r.IntN(len(c.pairs))]
	host := r.IntN(2)
	other := 1 - host
	return &domain.RoleData{
		PairID:      rp.ID,
		Topic:       rp.Topic,
		Player1Role: rp.Roles[host],
		Player1Icon: rp.Icons[host],
		Player1Desc: rp.Descriptions[host],
		Player2Role: rp.Roles[other],
		Player2Icon: rp.Icons[other],
		Player2Desc: rp.Descriptions[other],
	}
}

// PickCasualTopic draws a topic for freeform bot rooms.
func (c *Catalog) PickCasualTopic(r Rand) string {
	return c.topics[r.IntN(len(c.topics))]
}
