package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskRef
		wantErr bool
	}{
		{"12_div", TaskRef{JobID: 12, Kind: KindSplit}, false},
		{"12_0", TaskRef{JobID: 12, Kind: KindPartition, Partition: 0}, false},
		{"3_41", TaskRef{JobID: 3, Kind: KindPartition, Partition: 41}, false},
		{"12", TaskRef{}, true},
		{"12_", TaskRef{}, true},
		{"_div", TaskRef{}, true},
		{"abc_div", TaskRef{}, true},
		{"12_-1", TaskRef{}, true},
		{"12_div_1", TaskRef{}, true},
		{"12_DIV", TaskRef{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTaskID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.TaskID())
		})
	}
}

func TestTaskIDFormat(t *testing.T) {
	assert.Equal(t, "7_div", SplitTaskID(types.JobID(7)))
	assert.Equal(t, "7_3", PartitionTaskID(types.JobID(7), 3))
	assert.Equal(t, "split", KindSplit.String())
	assert.Equal(t, "partition", KindPartition.String())
}
