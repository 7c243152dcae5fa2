package prepare

import "math"

// Large finite stand-in for infinity; keeps the parabola intersection
// arithmetic below free of inf-inf.
const edtInf = 1e20

// distanceTransform computes, for every cell, the exact euclidean
// distance to the nearest invalid cell (two pass parabola envelope,
// Felzenszwalb/Huttenlocher). Invalid cells read 0. Without any
// invalid cell the distances saturate far beyond any useful cap.
func distanceTransform(invalid []bool, width, height int) []float64 {
	d := make([]float64, width*height)
	for i, inv := range invalid {
		if !inv {
			d[i] = edtInf
		}
	}

	n := max(width, height)
	f := make([]float64, n)
	out := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			f[y] = d[y*width+x]
		}
		edt1d(f[:height], out[:height], v, z)
		for y := 0; y < height; y++ {
			d[y*width+x] = out[y]
		}
	}
	for y := 0; y < height; y++ {
		copy(f[:width], d[y*width:(y+1)*width])
		edt1d(f[:width], out[:width], v, z)
		copy(d[y*width:(y+1)*width], out[:width])
	}

	for i := range d {
		d[i] = math.Sqrt(d[i])
	}
	return d
}

// edt1d writes the squared distance transform of the sampled costs f
// into out; v and z are scratch for the envelope.
func edt1d(f, out []float64, v []int, z []float64) {
	k := 0
	v[0] = 0
	z[0] = -edtInf
	z[1] = edtInf
	for q := 1; q < len(f); q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = edtInf
	}

	k = 0
	for q := 0; q < len(f); q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		out[q] = dq*dq + f[v[k]]
	}
}

// intersect returns where the distance parabolas rooted at q and p
// cross.
func intersect(f []float64, q, p int) float64 {
	return (f[q] + float64(q*q) - f[p] - float64(p*p)) / float64(2*q-2*p)
}
