// Package classify maps raw per-creature fields to display attributes:
// wound severity badges, player/NPC/boss roles and icon overrides.
package classify

import (
	"strings"

	"github.com/mcdev12/tracksync/go/internal/tracker/events"
	"github.com/mcdev12/tracksync/go/internal/tracker/models"
)

// Reserved role tags. Matching is case-insensitive and exact.
const (
	TagPlayer = "player"
	TagNPC    = "npc"
	TagBoss   = "boss"

	// DefaultIconPrefix marks a condition that carries an icon class instead of a status
	DefaultIconPrefix = "fa-"

	// UnknownWoundLevel is used for rows that carry no wound level at all
	UnknownWoundLevel = 4
)

// Wound tiers reported by the host for non-player creatures
const (
	TierHealthy  = 0
	TierHurt     = 1
	TierBloodied = 2
	TierDefeated = 3
)

var woundTiers = map[int]models.WoundInfo{
	TierHealthy: {
		Tier:       TierHealthy,
		Title:      "Healthy",
		IconClass:  "fas fa-heart",
		ColorClass: "text-green-700",
	},
	TierHurt: {
		Tier:       TierHurt,
		Title:      "Hurt",
		IconClass:  "fas fa-droplet",
		ColorClass: "text-amber-600",
	},
	TierBloodied: {
		Tier:       TierBloodied,
		Title:      "Bloodied",
		IconClass:  "fas fa-burst",
		ColorClass: "text-red-700",
	},
	TierDefeated: {
		Tier:       TierDefeated,
		Title:      "Defeated",
		IconClass:  "fas fa-skull-crossbones",
		ColorClass: "text-stone-500",
		IsDefeated: true,
	},
}

// Config selects the display variant of the classifier
type Config struct {
	// HealthyBadge shows a badge for tier 0 instead of leaving it blank
	HealthyBadge bool
	IconPrefix   string
}

// DefaultConfig returns the classifier configuration used by the viewer
func DefaultConfig() Config {
	return Config{
		HealthyBadge: false,
		IconPrefix:   DefaultIconPrefix,
	}
}

// IconOverride is an icon class and color taken from a condition tag
type IconOverride struct {
	Class string
	Color string
}

// Result is the derived display attributes of one creature
type Result struct {
	IsPlayer     bool
	IsNPC        bool
	IsBoss       bool
	Role         models.CreatureRole
	Wound        *models.WoundInfo
	IconOverride *IconOverride
}

// Classifier is a pure mapping from raw row fields to display attributes
type Classifier struct {
	config Config
}

// New creates a classifier. An empty icon prefix falls back to the default.
func New(config Config) *Classifier {
	if config.IconPrefix == "" {
		config.IconPrefix = DefaultIconPrefix
	}
	config.IconPrefix = strings.ToLower(config.IconPrefix)
	return &Classifier{config: config}
}

// Classify derives role, wound badge and icon override.
//
// A negative wound level is the host's player sentinel and never produces a badge.
// Role tags set their flag regardless of the wound level; when both signals are
// present the tags decide the styling role.
func (c *Classifier) Classify(woundLevel int, conditions []events.RawCondition) Result {
	hasPlayer, hasNPC, hasBoss := false, false, false
	var icon *IconOverride

	for _, cond := range conditions {
		name := strings.ToLower(cond.Name)
		switch name {
		case TagPlayer:
			hasPlayer = true
		case TagNPC:
			hasNPC = true
		case TagBoss:
			hasBoss = true
		}
		if icon == nil && strings.HasPrefix(name, c.config.IconPrefix) {
			icon = &IconOverride{Class: cond.Name, Color: cond.Color}
		}
	}

	isTier := woundLevel >= TierHealthy && woundLevel <= TierDefeated

	res := Result{
		IsPlayer:     hasPlayer || woundLevel < 0,
		IsNPC:        hasNPC || (isTier && !hasPlayer),
		IsBoss:       hasBoss,
		Wound:        c.Wound(woundLevel),
		IconOverride: icon,
	}
	res.Role = role(hasPlayer, hasNPC, hasBoss, woundLevel)
	return res
}

// Wound returns the fixed badge for a wound level, or nil when none applies
func (c *Classifier) Wound(level int) *models.WoundInfo {
	if level < 0 {
		return nil
	}
	if level == TierHealthy && !c.config.HealthyBadge {
		return nil
	}
	info, ok := woundTiers[level]
	if !ok {
		return nil
	}
	return &info
}

// IsMetadataTag reports whether a condition is consumed as role/icon metadata
// rather than shown as a status effect.
func (c *Classifier) IsMetadataTag(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case TagPlayer, TagNPC, TagBoss:
		return true
	}
	return strings.HasPrefix(lower, c.config.IconPrefix)
}

func role(hasPlayer, hasNPC, hasBoss bool, woundLevel int) models.CreatureRole {
	switch {
	case hasBoss:
		return models.CreatureRoleBoss
	case hasPlayer:
		return models.CreatureRolePlayer
	case hasNPC:
		return models.CreatureRoleNPC
	case woundLevel < 0:
		return models.CreatureRolePlayer
	case woundLevel <= TierDefeated:
		return models.CreatureRoleNPC
	default:
		return models.CreatureRoleUnknown
	}
}
