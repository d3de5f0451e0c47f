package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistributeEvenly(t *testing.T) {
	cases := []struct {
		name     string
		total    int
		teamSize int
		want     []int
	}{
		{"remainder goes to the first members", 10, 3, []int{4, 3, 3}},
		{"zero total", 0, 3, []int{0, 0, 0}},
		{"one each", 5, 5, []int{1, 1, 1, 1, 1}},
		{"fewer units than members", 2, 4, []int{1, 1, 0, 0}},
		{"single member takes all", 7, 1, []int{7}},
		{"negative total treated as zero", -3, 2, []int{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DistributeEvenly(tc.total, tc.teamSize))
		})
	}
}

func TestDistributeEvenly_EmptyTeam(t *testing.T) {
	assert.Nil(t, DistributeEvenly(10, 0))
	assert.Nil(t, DistributeEvenly(10, -1))
}

func TestDistributeEvenly_SharesSumToTotal(t *testing.T) {
	for total := 0; total <= 25; total++ {
		for teamSize := 1; teamSize <= 7; teamSize++ {
			shares := DistributeEvenly(total, teamSize)
			sum := 0
			for _, s := range shares {
				sum += s
			}
			assert.Equal(t, total, sum, "total=%d teamSize=%d", total, teamSize)
		}
	}
}
