package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePatch(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Patch
		wantErr bool
	}{
		{name: "empty object", body: `{}`, want: Patch{}},
		{name: "active only", body: `{"is_active": true}`, want: Patch{IsActive: Bool(true)}},
		{name: "all fields", body: `{"is_active": false, "is_checkout": true, "notes": "extra bed"}`,
			want: Patch{IsActive: Bool(false), IsCheckout: Bool(true), Notes: String("extra bed")}},
		{name: "unknown keys ignored", body: `{"notes": "", "colour": "blue", "updated_at": "yesterday"}`,
			want: Patch{Notes: String("")}},
		{name: "unknown null ignored", body: `{"extra": null}`, want: Patch{}},
		{name: "wrong type", body: `{"is_active": "yes"}`, wantErr: true},
		{name: "null known field", body: `{"notes": null}`, wantErr: true},
		{name: "array body", body: `[1,2]`, wantErr: true},
		{name: "null body", body: `null`, wantErr: true},
		{name: "garbage", body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePatch([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatchApply(t *testing.T) {
	base := Room{ID: "201", IsActive: true, Notes: "keep"}

	next, changed := Patch{IsCheckout: Bool(true)}.Apply(base)
	assert.True(t, changed)
	assert.Equal(t, "keep", next.Notes)
	assert.True(t, next.IsActive)

	_, changed = Patch{IsActive: Bool(true), Notes: String("keep")}.Apply(base)
	assert.False(t, changed)

	_, changed = Patch{}.Apply(base)
	assert.False(t, changed)
}

func TestNextStamp(t *testing.T) {
	prev := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, prev.Add(time.Microsecond), NextStamp(prev, prev))
	assert.Equal(t, prev.Add(time.Microsecond), NextStamp(prev.Add(-time.Hour), prev))

	later := prev.Add(time.Second + 1500*time.Nanosecond)
	assert.Equal(t, prev.Add(time.Second+time.Microsecond), NextStamp(later, prev))
}

func TestSortIsStable(t *testing.T) {
	rs := []Room{{ID: "b", DisplayOrder: 2}, {ID: "z", DisplayOrder: 1}, {ID: "a", DisplayOrder: 2}}
	Sort(rs)
	assert.Equal(t, []string{"z", "a", "b"}, ids(rs))
}
