package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

func TestDecodeLinks(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"href": "/crm/type/163/details/9001/", "text": "Ticket 9001"},
		map[string]interface{}{"href": "/crm/type/163/details/8990/", "text": ""},
	}

	links, err := decodeLinks(raw)
	require.NoError(t, err)
	assert.Equal(t, []core.CandidateLink{
		{Href: "/crm/type/163/details/9001/", Text: "Ticket 9001"},
		{Href: "/crm/type/163/details/8990/"},
	}, links)

	links, err = decodeLinks(nil)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestDecodeBlocks_DropsUnknownKinds(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"kind": "text", "text": "Yesterday", "y": 120.5},
		map[string]interface{}{"kind": "block", "text": "Stage changed 10:15 am", "y": float64(180)},
		map[string]interface{}{"kind": "image", "text": "", "y": float64(200)},
	}

	blocks, err := decodeBlocks(raw)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, core.BlockText, blocks[0].Kind)
	assert.InDelta(t, 120.5, blocks[0].Y, 0.001)
	assert.Equal(t, core.BlockGroup, blocks[1].Kind)
}

func TestDecodeBlocks_RejectsWrongShape(t *testing.T) {
	_, err := decodeBlocks("not a list")
	assert.Error(t, err)
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    float64
		wantErr bool
	}{
		{in: 1520.0, want: 1520},
		{in: 3, want: 3},
		{in: int64(7), want: 7},
		{in: nil, want: 0},
		{in: "12", wantErr: true},
	}
	for _, tt := range tests {
		got, err := toFloat(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestMillis(t *testing.T) {
	assert.Equal(t, 30000.0, millis(30*time.Second))
	assert.Equal(t, 250.0, millis(250*time.Millisecond))
}
