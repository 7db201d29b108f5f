package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		rotation int
		display  [2]int
	}{
		{
			name:     "landscape without rotation",
			json:     `{"streams":[{"codec_type":"video","codec_name":"hevc","width":1920,"height":1080,"avg_frame_rate":"30000/1001"},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"12.5","bit_rate":"4000000"}}`,
			rotation: 0,
			display:  [2]int{1920, 1080},
		},
		{
			name:     "rotate tag",
			json:     `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"tags":{"rotate":"90"}}],"format":{"duration":"3.0"}}`,
			rotation: 90,
			display:  [2]int{1080, 1920},
		},
		{
			name:     "display matrix",
			json:     `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"side_data_list":[{"rotation":-90}]}],"format":{"duration":"3.0"}}`,
			rotation: 90,
			display:  [2]int{1080, 1920},
		},
		{
			name:     "display matrix counter clockwise",
			json:     `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"side_data_list":[{"rotation":90}]}],"format":{"duration":"3.0"}}`,
			rotation: 270,
			display:  [2]int{1080, 1920},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Parse([]byte(tt.json))
			require.NoError(t, err)
			assert.True(t, info.HasVideo)
			assert.Equal(t, tt.rotation, info.Rotation)
			w, h := info.DisplaySize()
			assert.Equal(t, tt.display, [2]int{w, h})
		})
	}
}

func TestParseFirstStreamFacts(t *testing.T) {
	info, err := Parse([]byte(`{"streams":[{"codec_type":"video","codec_name":"hevc","width":1920,"height":1080,"avg_frame_rate":"30000/1001"},{"codec_type":"audio"}],"format":{"duration":"12.5","bit_rate":"4000000"}}`))
	require.NoError(t, err)

	assert.Equal(t, "hevc", info.Codec)
	assert.True(t, info.HasAudio)
	assert.InDelta(t, 12.5, info.Duration, 0.001)
	assert.Equal(t, int64(4000000), info.BitRate)
	assert.InDelta(t, 29.97, info.FrameRate, 0.01)
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 25.0, ParseFrameRate("25"), 0.001)
	assert.InDelta(t, 30.0, ParseFrameRate("30/1"), 0.001)
	assert.Equal(t, 0.0, ParseFrameRate("0/0"))
	assert.Equal(t, 0.0, ParseFrameRate(""))
}

func TestUnavailable(t *testing.T) {
	p := &FFprobe{Path: "definitely-not-a-real-ffprobe"}
	_, err := p.Probe(context.Background(), "x.mp4")
	assert.ErrorIs(t, err, ErrUnavailable)
}
