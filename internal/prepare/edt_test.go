package prepare

import (
	"math"
	"testing"
)

func bruteForceDistance(invalid []bool, width, height int) []float64 {
	d := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			best := edtInf
			for yy := 0; yy < height; yy++ {
				for xx := 0; xx < width; xx++ {
					if !invalid[yy*width+xx] {
						continue
					}
					dx, dy := float64(x-xx), float64(y-yy)
					if sq := dx*dx + dy*dy; sq < best {
						best = sq
					}
				}
			}
			d[y*width+x] = math.Sqrt(best)
		}
	}
	return d
}

func TestDistanceTransformMatchesBruteForce(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		invalid       []int
	}{
		{"single center", 5, 5, []int{12}},
		{"opposite corners", 7, 4, []int{0, 27}},
		{"left column", 6, 6, []int{0, 6, 12, 18, 24, 30}},
		{"scattered", 8, 5, []int{3, 17, 22, 38}},
		{"everything invalid", 3, 3, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"nothing invalid", 4, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invalid := make([]bool, tt.width*tt.height)
			for _, i := range tt.invalid {
				invalid[i] = true
			}

			got := distanceTransform(invalid, tt.width, tt.height)
			want := bruteForceDistance(invalid, tt.width, tt.height)
			for i := range want {
				if math.Abs(got[i]-want[i]) > 1e-9 {
					t.Errorf("distance[%d] = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestDistanceTransformSaturatesWithoutClouds(t *testing.T) {
	got := distanceTransform(make([]bool, 12), 4, 3)
	for i, d := range got {
		if d < 256 {
			t.Errorf("distance[%d] = %v, want saturation past any cap", i, d)
		}
	}
}
