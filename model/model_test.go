package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempID(t *testing.T) {
	id := NewTempID(time.UnixMilli(1700000000000))
	require.Equal(t, "temp_1700000000000", id)
	assert.True(t, IsTempID(id))
	assert.False(t, IsTempID("abc123"))
	assert.False(t, IsTempID(""))
}

func TestOfferFieldsValidate(t *testing.T) {
	ok := OfferFields{SportType: "Tennis", Location: "Berlin", DateTime: time.Now()}
	require.NoError(t, ok.Validate())

	cases := map[string]OfferFields{
		"sport":    {Location: "Berlin", DateTime: time.Now()},
		"location": {SportType: "Tennis", DateTime: time.Now()},
		"time":     {SportType: "Tennis", Location: "Berlin"},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, f.Validate())
		})
	}
}

func TestProfileUpdateApply(t *testing.T) {
	first := "Ada"
	p := &Profile{ID: "u1", FirstName: "A", LastName: "Lovelace"}
	ProfileUpdate{FirstName: &first}.Apply(p)

	require.Equal(t, "Ada", p.FirstName)
	require.Equal(t, "Lovelace", p.LastName)
	require.Equal(t, "Ada Lovelace", p.DisplayName())

	var nilProfile *Profile
	require.Equal(t, "", nilProfile.DisplayName())
}

func TestActivityOfferJSONFlattensFields(t *testing.T) {
	o := ActivityOffer{
		ID:     "abc",
		UserID: "u1",
		OfferFields: OfferFields{
			SportType: "Yoga",
			Location:  "Park",
			DateTime:  time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	raw, err := json.Marshal(o)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "Yoga", m["sport_type"])
	assert.Equal(t, "Park", m["location"])
	assert.NotContains(t, m, "sync_state")
}
