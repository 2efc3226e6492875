package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/manifest"
)

func TestResolveExperienceID(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		expectedID string
		expectErr  bool
	}{
		{name: "Happy Path", input: `{"id":"@alice/weather","name":"Weather"}`, expectedID: "@alice/weather"},
		{name: "Trims whitespace", input: `{"id":"  @alice/weather "}`, expectedID: "@alice/weather"},
		{name: "Missing id", input: `{"name":"Weather"}`, expectErr: true},
		{name: "Non-string id", input: `{"id":42}`, expectErr: true},
		{name: "Malformed JSON", input: `{"id":`, expectErr: true},
		{name: "Null document", input: `null`, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := manifest.ResolveExperienceID([]byte(tc.input))
			if tc.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, manifest.ErrMissingExperienceID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedID, id)
		})
	}
}

func TestParse_RetainsRawFields(t *testing.T) {
	m, err := manifest.Parse([]byte(`{"id":"@bob/app","sdkVersion":"36.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "36.0.0", m.Raw["sdkVersion"])
}
