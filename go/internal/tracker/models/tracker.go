package models

// StatusEffect is a visible condition on a creature.
type StatusEffect struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Turns *int   `json:"turns"` // nil when the condition has no countdown
}

// WoundInfo is the display badge for an NPC wound tier.
type WoundInfo struct {
	Tier       int    `json:"tier"`
	Title      string `json:"title"`
	IconClass  string `json:"icon_class"`
	ColorClass string `json:"color_class"`
	IsDefeated bool   `json:"is_defeated"`
}

// CreatureRole is the role used for player/NPC styling.
type CreatureRole string

const (
	CreatureRoleUnknown CreatureRole = "UNKNOWN"
	CreatureRolePlayer  CreatureRole = "PLAYER"
	CreatureRoleNPC     CreatureRole = "NPC"
	CreatureRoleBoss    CreatureRole = "BOSS"
)

// Creature represents one row of the initiative list.
type Creature struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Initiative        *int           `json:"initiative"`
	HPCurrent         *int           `json:"hp_current,omitempty"`
	HPMax             *int           `json:"hp_max,omitempty"`
	IsPlayer          bool           `json:"is_player"`
	IsNPC             bool           `json:"is_npc"`
	IsBoss            bool           `json:"is_boss"`
	Role              CreatureRole   `json:"role"`
	IsActive          bool           `json:"is_active"` // is it this creature's turn?
	IconOverrideClass *string        `json:"icon_override_class,omitempty"`
	IconOverrideColor *string        `json:"icon_override_color,omitempty"`
	WoundInfo         *WoundInfo     `json:"wound_info"`
	StatusEffects     []StatusEffect `json:"status_effects"`
}

// TrackerData is the display model derived from one session payload.
// A new value replaces the previous one on every accepted update.
type TrackerData struct {
	Round     int        `json:"round"`
	Creatures []Creature `json:"creatures"`
}

// ActiveCreature returns the creature whose turn it is, if any.
func (t *TrackerData) ActiveCreature() (Creature, bool) {
	if t == nil {
		return Creature{}, false
	}
	for _, c := range t.Creatures {
		if c.IsActive {
			return c, true
		}
	}
	return Creature{}, false
}
