package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tracksync/go/internal/tracker/events"
	"github.com/mcdev12/tracksync/go/internal/tracker/models"
)

func TestClassify_WoundLevels(t *testing.T) {
	c := New(DefaultConfig())

	cases := []struct {
		name       string
		level      int
		wantPlayer bool
		wantNPC    bool
		wantTitle  string // empty means no badge
		wantRole   models.CreatureRole
	}{
		{name: "player sentinel", level: -1, wantPlayer: true, wantRole: models.CreatureRolePlayer},
		{name: "other negative", level: -7, wantPlayer: true, wantRole: models.CreatureRolePlayer},
		{name: "healthy has no badge", level: 0, wantNPC: true, wantRole: models.CreatureRoleNPC},
		{name: "hurt", level: 1, wantNPC: true, wantTitle: "Hurt", wantRole: models.CreatureRoleNPC},
		{name: "bloodied", level: 2, wantNPC: true, wantTitle: "Bloodied", wantRole: models.CreatureRoleNPC},
		{name: "defeated", level: 3, wantNPC: true, wantTitle: "Defeated", wantRole: models.CreatureRoleNPC},
		{name: "unknown level", level: 9, wantRole: models.CreatureRoleUnknown},
		{name: "missing level", level: UnknownWoundLevel, wantRole: models.CreatureRoleUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := c.Classify(tc.level, nil)
			assert.Equal(t, tc.wantPlayer, res.IsPlayer)
			assert.Equal(t, tc.wantNPC, res.IsNPC)
			assert.Equal(t, tc.wantRole, res.Role)
			if tc.wantTitle == "" {
				assert.Nil(t, res.Wound)
				return
			}
			require.NotNil(t, res.Wound)
			assert.Equal(t, tc.wantTitle, res.Wound.Title)
			assert.Equal(t, tc.level, res.Wound.Tier)
		})
	}
}

func TestClassify_DefeatedTierIsTerminal(t *testing.T) {
	res := New(DefaultConfig()).Classify(TierDefeated, nil)
	require.NotNil(t, res.Wound)
	assert.True(t, res.Wound.IsDefeated)

	res = New(DefaultConfig()).Classify(TierBloodied, nil)
	require.NotNil(t, res.Wound)
	assert.False(t, res.Wound.IsDefeated)
}

func TestClassify_HealthyBadgeVariant(t *testing.T) {
	c := New(Config{HealthyBadge: true})
	res := c.Classify(TierHealthy, nil)
	require.NotNil(t, res.Wound)
	assert.Equal(t, "Healthy", res.Wound.Title)
}

func TestClassify_BadgesAreDeterministic(t *testing.T) {
	c := New(DefaultConfig())
	first := c.Classify(TierHurt, nil)
	second := c.Classify(TierHurt, nil)
	require.NotNil(t, first.Wound)
	require.NotNil(t, second.Wound)
	assert.Equal(t, *first.Wound, *second.Wound)

	// callers must not be able to corrupt the shared tier table
	first.Wound.Title = "changed"
	assert.Equal(t, "Hurt", c.Classify(TierHurt, nil).Wound.Title)
}

func TestClassify_RoleTags(t *testing.T) {
	c := New(DefaultConfig())

	res := c.Classify(2, []events.RawCondition{{Name: "PLAYER", Color: "#fff"}})
	assert.True(t, res.IsPlayer)
	assert.False(t, res.IsNPC, "player tag takes precedence over the NPC tier signal")
	assert.Equal(t, models.CreatureRolePlayer, res.Role)
	require.NotNil(t, res.Wound, "wound badge still derives from the level")

	res = c.Classify(-1, []events.RawCondition{{Name: "Npc"}})
	assert.True(t, res.IsPlayer, "negative level always marks a player")
	assert.True(t, res.IsNPC)
	assert.Equal(t, models.CreatureRoleNPC, res.Role)

	res = c.Classify(1, []events.RawCondition{{Name: "boss"}, {Name: "npc"}})
	assert.True(t, res.IsBoss)
	assert.True(t, res.IsNPC)
	assert.Equal(t, models.CreatureRoleBoss, res.Role)

	res = c.Classify(1, []events.RawCondition{{Name: "bossy"}})
	assert.False(t, res.IsBoss, "role tags match exactly")
}

func TestClassify_IconOverrideFirstMatchWins(t *testing.T) {
	c := New(DefaultConfig())
	res := c.Classify(1, []events.RawCondition{
		{Name: "Prone", Color: "#111"},
		{Name: "FA-dragon", Color: "#f00"},
		{Name: "fa-ghost", Color: "#0f0"},
	})
	require.NotNil(t, res.IconOverride)
	assert.Equal(t, "FA-dragon", res.IconOverride.Class)
	assert.Equal(t, "#f00", res.IconOverride.Color)
}

func TestIsMetadataTag(t *testing.T) {
	c := New(Config{IconPrefix: "icon:"})
	assert.True(t, c.IsMetadataTag("Player"))
	assert.True(t, c.IsMetadataTag("NPC"))
	assert.True(t, c.IsMetadataTag("boss"))
	assert.True(t, c.IsMetadataTag("ICON:wolf"))
	assert.False(t, c.IsMetadataTag("fa-wolf"))
	assert.False(t, c.IsMetadataTag("Poisoned"))
}
