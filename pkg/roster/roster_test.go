package roster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/autoassign"
	"missioncontrol/pkg/testkit"
)

func TestDefaultRosterCoversRouting(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	codes := map[string]bool{}
	for _, a := range r.Agents {
		codes[a.Codename] = true
	}
	for _, rule := range autoassign.DefaultRules {
		assert.True(t, codes[rule.Codename], "no agent for routing rule %s", rule.Codename)
	}
	assert.True(t, codes["PRODUCER"])
	assert.True(t, codes["CEO"])
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"missing codename", "agents:\n  - name: X\n", "no codename"},
		{"duplicate codename", "agents:\n  - {codename: a, name: A}\n  - {codename: A, name: B}\n", "duplicate agent codename A"},
		{"missing name", "agents:\n  - codename: X\n", "has no name"},
		{"provider type", "providers:\n  - name: P\n", "needs a name and a type"},
		{"two defaults", "providers:\n  - {name: a, type: claude, default: true}\n  - {name: b, type: kimi, default: true}\n", "at most one"},
		{"bad yaml", "agents: [", "failed to parse roster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "")
	ctx := context.Background()
	s := testkit.NewStore(t)
	r, err := Default()
	require.NoError(t, err)

	sum, err := Apply(ctx, s, r)
	require.NoError(t, err)
	assert.Equal(t, len(r.Agents), sum.Agents)
	assert.Equal(t, len(r.Providers), sum.ProvidersAdded)

	tab, err := s.GetAgentByCodename(ctx, "TABSMITH")
	require.NoError(t, err)
	assert.Equal(t, "TabSmith", tab.Name)
	assert.Equal(t, "🎸", tab.Avatar)

	def, err := s.DefaultProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Anthropic", def.Name)
	assert.Equal(t, "sk-test", def.APIKey)

	r.Agents[0].Name = "TabSmith II"
	sum, err = Apply(ctx, s, r)
	require.NoError(t, err)
	assert.Zero(t, sum.ProvidersAdded)
	assert.Equal(t, len(r.Providers), sum.ProvidersSkipped)

	again, err := s.GetAgentByCodename(ctx, "TABSMITH")
	require.NoError(t, err)
	assert.Equal(t, tab.ID, again.ID, "reseeding keeps agent identity")
	assert.Equal(t, "TabSmith II", again.Name)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, len(r.Providers))
}
