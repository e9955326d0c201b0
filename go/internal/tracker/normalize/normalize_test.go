package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tracksync/go/internal/tracker/events"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func row(name *string, init *int, level int, conds ...events.RawCondition) events.RawCreatureRow {
	return events.RawCreatureRow{
		Name:         name,
		Initiative:   init,
		HPWoundLevel: intPtr(level),
		Conditions:   conds,
	}
}

func TestNormalize_OrcScenario(t *testing.T) {
	orc := row(strPtr("Orc"), intPtr(12), 1)
	orc.IsActive = true
	payload := &events.RawStatePayload{
		Round: 3,
		Rows: []events.RawCreatureRow{
			orc,
			row(nil, intPtr(5), 0),
		},
	}

	model, err := New(DefaultConfig()).Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, model.Round)
	require.Len(t, model.Creatures, 1)

	c := model.Creatures[0]
	assert.Equal(t, "Orc", c.Name)
	assert.Equal(t, "Orc-12-0", c.ID)
	assert.True(t, c.IsActive)
	require.NotNil(t, c.WoundInfo)
	assert.Equal(t, "Hurt", c.WoundInfo.Title)
}

func TestNormalize_DropsUnnamedRowsAndKeepsOrder(t *testing.T) {
	payload := &events.RawStatePayload{
		Round: 7,
		Rows: []events.RawCreatureRow{
			row(strPtr("Zed"), intPtr(2), -1),
			row(strPtr(""), intPtr(30), 0),
			row(strPtr("Amy"), intPtr(18), -1),
			row(nil, nil, 0),
			row(strPtr("Bat"), nil, 1),
			row(strPtr("Cat"), intPtr(25), 2),
		},
	}

	model, err := New(DefaultConfig()).Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, 7, model.Round)

	var names []string
	for _, c := range model.Creatures {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Zed", "Amy", "Bat", "Cat"}, names, "host order is preserved")
	assert.Equal(t, "Bat-null-2", model.Creatures[2].ID)
}

func TestNormalize_DuplicateRowsGetUniqueIDs(t *testing.T) {
	payload := &events.RawStatePayload{
		Round: 1,
		Rows: []events.RawCreatureRow{
			row(strPtr("Goblin"), intPtr(10), 0),
			row(strPtr("Goblin"), intPtr(10), 0),
			row(strPtr("Goblin"), intPtr(10), 1),
		},
	}

	model, err := New(DefaultConfig()).Normalize(payload)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range model.Creatures {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestNormalize_FiltersMetadataConditions(t *testing.T) {
	payload := &events.RawStatePayload{
		Round: 2,
		Rows: []events.RawCreatureRow{
			row(strPtr("Dragon"), intPtr(20), 2,
				events.RawCondition{Name: "Boss", Color: "#000"},
				events.RawCondition{Name: "NPC", Color: "#000"},
				events.RawCondition{Name: "fa-dragon", Color: "#c00"},
				events.RawCondition{Name: "Frightened", Color: "#ff0", Turns: intPtr(3)},
				events.RawCondition{Name: "player", Color: "#000"},
				events.RawCondition{Name: "Prone", Color: "#999"},
			),
		},
	}

	model, err := New(DefaultConfig()).Normalize(payload)
	require.NoError(t, err)
	require.Len(t, model.Creatures, 1)
	c := model.Creatures[0]

	require.Len(t, c.StatusEffects, 2)
	assert.Equal(t, "Frightened", c.StatusEffects[0].Name)
	require.NotNil(t, c.StatusEffects[0].Turns)
	assert.Equal(t, 3, *c.StatusEffects[0].Turns)
	assert.Equal(t, "Prone", c.StatusEffects[1].Name)
	assert.Nil(t, c.StatusEffects[1].Turns)

	assert.True(t, c.IsBoss)
	assert.True(t, c.IsNPC)
	assert.True(t, c.IsPlayer)
	require.NotNil(t, c.IconOverrideClass)
	assert.Equal(t, "fa-dragon", *c.IconOverrideClass)
	assert.Equal(t, "#c00", *c.IconOverrideColor)
}

func TestNormalize_SkipsNamelessConditions(t *testing.T) {
	var r events.RawCreatureRow
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Orc", "initiative": 12, "hpWoundLevel": 1,
		"conditions": [null, {"entity": null}, {"name": " "}, {"name": "Prone", "color": "gray"}]
	}`), &r))

	model, err := New(DefaultConfig()).Normalize(&events.RawStatePayload{Round: 1, Rows: []events.RawCreatureRow{r}})
	require.NoError(t, err)
	require.Len(t, model.Creatures, 1)
	effects := model.Creatures[0].StatusEffects
	require.Len(t, effects, 1)
	assert.Equal(t, "Prone", effects[0].Name)
}

func TestNormalize_CarriesHitPoints(t *testing.T) {
	r := row(strPtr("Ogre"), intPtr(8), 1)
	r.HPCurrent = intPtr(30)
	r.HPMax = intPtr(59)

	model, err := New(DefaultConfig()).Normalize(&events.RawStatePayload{Round: 1, Rows: []events.RawCreatureRow{r}})
	require.NoError(t, err)
	c := model.Creatures[0]
	require.NotNil(t, c.HPCurrent)
	require.NotNil(t, c.HPMax)
	assert.Equal(t, 30, *c.HPCurrent)
	assert.Equal(t, 59, *c.HPMax)
}

func TestNormalize_MissingWoundLevelHasNoBadge(t *testing.T) {
	r := events.RawCreatureRow{Name: strPtr("Wisp"), Initiative: intPtr(3)}
	model, err := New(DefaultConfig()).Normalize(&events.RawStatePayload{Round: 1, Rows: []events.RawCreatureRow{r}})
	require.NoError(t, err)
	assert.Nil(t, model.Creatures[0].WoundInfo)
	assert.False(t, model.Creatures[0].IsPlayer)
}

func TestNormalize_RejectsMissingRows(t *testing.T) {
	_, err := New(DefaultConfig()).Normalize(&events.RawStatePayload{Round: 1})
	assert.ErrorIs(t, err, ErrMissingRows)

	_, err = New(DefaultConfig()).Normalize(nil)
	assert.ErrorIs(t, err, ErrMissingRows)
}

func TestNormalize_EmptyRowsYieldEmptyModel(t *testing.T) {
	model, err := New(DefaultConfig()).Normalize(&events.RawStatePayload{Round: 5, Rows: []events.RawCreatureRow{}})
	require.NoError(t, err)
	assert.Equal(t, 5, model.Round)
	assert.Empty(t, model.Creatures)
}

func TestNormalize_InitiativeOrderPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Order = OrderInitiative

	payload := &events.RawStatePayload{
		Round: 1,
		Rows: []events.RawCreatureRow{
			row(strPtr("Zombie"), nil, 0),
			row(strPtr("Bard"), intPtr(15), -1),
			row(strPtr("Archer"), nil, 0),
			row(strPtr("Knight"), intPtr(20), -1),
			row(strPtr("Rogue"), intPtr(15), -1),
		},
	}

	model, err := New(cfg).Normalize(payload)
	require.NoError(t, err)

	var names []string
	for _, c := range model.Creatures {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Knight", "Bard", "Rogue", "Archer", "Zombie"}, names)
	assert.Equal(t, "Knight-20-0", model.Creatures[0].ID, "ids follow display position")
}

func TestParseOrderPolicy(t *testing.T) {
	p, err := ParseOrderPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrderHost, p)

	p, err = ParseOrderPolicy(" Initiative ")
	require.NoError(t, err)
	assert.Equal(t, OrderInitiative, p)

	_, err = ParseOrderPolicy("alphabetical")
	assert.Error(t, err)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	payload := &events.RawStatePayload{
		Round: 1,
		Rows: []events.RawCreatureRow{
			row(strPtr("B"), intPtr(1), 0),
			row(strPtr("A"), intPtr(9), 0),
		},
	}
	cfg := DefaultConfig()
	cfg.Order = OrderInitiative

	_, err := New(cfg).Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, "B", *payload.Rows[0].Name)
}
