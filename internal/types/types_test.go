package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceError(t *testing.T) {
	err := &ServiceError{Code: "NOT_FOUND", Message: "user not found"}
	assert.Equal(t, "user not found", err.Error())
}

func TestPresenceChangeJSON_OmitsAbsentChannels(t *testing.T) {
	// An enter event carries only To; From must not appear as null noise in
	// the wire form.
	to := ChannelID("lounge")
	data, err := json.Marshal(&PresenceChange{UserID: "u1", To: &to})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "from")

	var decoded PresenceChange
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.From)
	require.NotNil(t, decoded.To)
	assert.Equal(t, ChannelID("lounge"), *decoded.To)
}
