package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRegistration_Flatten(t *testing.T) {
	reg := ActionRegistration{
		Prefix: "mower_logic:idle",
		Actions: []ActionInfo{
			{ID: "start_mowing", Name: "Start Mowing", Enabled: true},
			{ID: "start_area_recording", Name: "Record Area", Enabled: false},
		},
	}

	flat := reg.Flatten()

	require.Len(t, flat, 2)
	assert.Equal(t, "mower_logic:idle/start_mowing", flat[0].ID)
	assert.Equal(t, "Start Mowing", flat[0].Name)
	assert.True(t, flat[0].Enabled)
	assert.Equal(t, "mower_logic:idle/start_area_recording", flat[1].ID)
	assert.False(t, flat[1].Enabled)
}

func TestActionRegistration_FlattenEmpty(t *testing.T) {
	flat := ActionRegistration{Prefix: "node"}.Flatten()
	assert.NotNil(t, flat)
	assert.Empty(t, flat)
}

func TestActionRegistration_FlattenDoesNotMutate(t *testing.T) {
	reg := ActionRegistration{
		Prefix:  "node",
		Actions: []ActionInfo{{ID: "a", Name: "A", Enabled: true}},
	}

	_ = reg.Flatten()

	assert.Equal(t, "a", reg.Actions[0].ID)
}
