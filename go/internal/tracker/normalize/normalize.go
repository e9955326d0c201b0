// Package normalize turns raw session payloads into the display model.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mcdev12/tracksync/go/internal/tracker/classify"
	"github.com/mcdev12/tracksync/go/internal/tracker/events"
	"github.com/mcdev12/tracksync/go/internal/tracker/models"
)

// ErrMissingRows is returned for payloads without a rows list
var ErrMissingRows = errors.New("payload has no rows")

// OrderPolicy decides the display order of creatures
type OrderPolicy string

const (
	// OrderHost keeps the row order of the payload. The host has already resolved
	// ties, so this is the authoritative turn order.
	OrderHost OrderPolicy = "host"
	// OrderInitiative re-sorts by initiative descending. Null initiatives go last,
	// two nulls compare by name, equal initiatives keep host order.
	OrderInitiative OrderPolicy = "initiative"
)

// ParseOrderPolicy validates a configured order policy
func ParseOrderPolicy(s string) (OrderPolicy, error) {
	switch OrderPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderHost:
		return OrderHost, nil
	case OrderInitiative:
		return OrderInitiative, nil
	default:
		return "", fmt.Errorf("unknown order policy %q", s)
	}
}

// Config holds normalizer settings
type Config struct {
	Order    OrderPolicy
	Classify classify.Config
}

// DefaultConfig returns the host-order configuration
func DefaultConfig() Config {
	return Config{
		Order:    OrderHost,
		Classify: classify.DefaultConfig(),
	}
}

// Normalizer maps RawStatePayload values to TrackerData
type Normalizer struct {
	order      OrderPolicy
	classifier *classify.Classifier
}

// New creates a normalizer
func New(config Config) *Normalizer {
	if config.Order == "" {
		config.Order = OrderHost
	}
	return &Normalizer{
		order:      config.Order,
		classifier: classify.New(config.Classify),
	}
}

// Normalize builds a fresh display model from one payload. Rows without a name
// are dropped before ids are assigned; round passes through unchanged.
func (n *Normalizer) Normalize(payload *events.RawStatePayload) (*models.TrackerData, error) {
	if payload == nil || payload.Rows == nil {
		return nil, ErrMissingRows
	}

	rows := make([]events.RawCreatureRow, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		if row.Name == nil || *row.Name == "" {
			continue
		}
		rows = append(rows, row)
	}

	if n.order == OrderInitiative {
		sortByInitiative(rows)
	}

	creatures := make([]models.Creature, 0, len(rows))
	for i, row := range rows {
		creatures = append(creatures, n.creature(row, i))
	}

	return &models.TrackerData{
		Round:     payload.Round,
		Creatures: creatures,
	}, nil
}

func (n *Normalizer) creature(row events.RawCreatureRow, index int) models.Creature {
	level := classify.UnknownWoundLevel
	if row.HPWoundLevel != nil {
		level = *row.HPWoundLevel
	}
	res := n.classifier.Classify(level, row.Conditions)

	c := models.Creature{
		ID:            CreatureID(*row.Name, row.Initiative, index),
		Name:          *row.Name,
		Initiative:    copyInt(row.Initiative),
		HPCurrent:     copyInt(row.HPCurrent),
		HPMax:         copyInt(row.HPMax),
		IsPlayer:      res.IsPlayer,
		IsNPC:         res.IsNPC,
		IsBoss:        res.IsBoss,
		Role:          res.Role,
		IsActive:      row.IsActive,
		WoundInfo:     res.Wound,
		StatusEffects: make([]models.StatusEffect, 0, len(row.Conditions)),
	}
	if res.IconOverride != nil {
		class, color := res.IconOverride.Class, res.IconOverride.Color
		c.IconOverrideClass = &class
		c.IconOverrideColor = &color
	}

	for _, cond := range row.Conditions {
		if strings.TrimSpace(cond.Name) == "" || n.classifier.IsMetadataTag(cond.Name) {
			continue
		}
		c.StatusEffects = append(c.StatusEffects, models.StatusEffect{
			Name:  cond.Name,
			Color: cond.Color,
			Turns: copyInt(cond.Turns),
		})
	}
	return c
}

// CreatureID builds the id name-initiative-position. The position keeps ids unique
// when two rows share name and initiative; a missing initiative renders as "null".
func CreatureID(name string, initiative *int, index int) string {
	init := "null"
	if initiative != nil {
		init = strconv.Itoa(*initiative)
	}
	return name + "-" + init + "-" + strconv.Itoa(index)
}

func sortByInitiative(rows []events.RawCreatureRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.Initiative == nil && b.Initiative == nil:
			return *a.Name < *b.Name
		case a.Initiative == nil:
			return false
		case b.Initiative == nil:
			return true
		default:
			return *a.Initiative > *b.Initiative
		}
	})
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
