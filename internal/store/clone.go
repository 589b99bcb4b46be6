package store

import "github.com/tbourn/go-fluency-battle/internal/domain"

// CloneRoom returns a deep copy of r so a transaction can mutate its working
// copy without touching the snapshot it was read from.
func CloneRoom(r *domain.Room) *domain.Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.OpponentID != nil {
		v := *r.OpponentID
		c.OpponentID = &v
	}
	if r.BotPersona != nil {
		v := *r.BotPersona
		c.BotPersona = &v
	}
	if r.RoleData != nil {
		v := *r.RoleData
		c.RoleData = &v
	}
	if r.Results != nil {
		v := *r.Results
		c.Results = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		c.StartedAt = &v
	}
	if r.EndedAt != nil {
		v := *r.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// CloneProfile returns a deep copy of p.
func CloneProfile(p *domain.Profile) *domain.Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.LastBots = append([]string(nil), p.LastBots...)
	return &c
}
