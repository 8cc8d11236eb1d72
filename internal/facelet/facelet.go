// Package facelet reconstructs the 54-character Kociemba facelet string
// (and the completed 8/12-element permutation/orientation arrays) from
// the packed corner/edge fields a GAN cube reports over BLE. The wire
// format only carries the first 7 corners and first 11 edges; the final
// element of each array is recovered from cubing's parity closure rule.
package facelet

// Face indices, in the order facelet strings are laid out: U,R,F,D,L,B.
const (
	FaceU = iota
	FaceR
	FaceF
	FaceD
	FaceL
	FaceB
)

var faceLetters = [6]byte{'U', 'R', 'F', 'D', 'L', 'B'}

// NumFacelets is the length of a full facelet string (9 stickers * 6 faces).
const NumFacelets = 54

// CornerMap gives, for each of the 8 corner cubies, the three facelet
// indices its stickers occupy in solved-cubie order.
var CornerMap = [8][3]int{
	{8, 9, 20},
	{6, 18, 38},
	{0, 36, 47},
	{2, 45, 11},
	{29, 26, 15},
	{27, 44, 24},
	{33, 53, 42},
	{35, 17, 51},
}

// EdgeMap gives, for each of the 12 edge cubies, the two facelet indices
// its stickers occupy in solved-cubie order.
var EdgeMap = [12][2]int{
	{5, 10},
	{7, 19},
	{3, 37},
	{1, 46},
	{32, 16},
	{28, 25},
	{30, 43},
	{34, 52},
	{23, 12},
	{21, 41},
	{50, 39},
	{48, 14},
}

// ToFacelets renders a full facelet string from completed permutation and
// orientation arrays. CP/EP entries are cubie indices (0..7 / 0..11); CO
// entries are in 0..2, EO entries in 0..1.
func ToFacelets(cp [8]int, co [8]int, ep [12]int, eo [12]int) string {
	facelets := make([]byte, NumFacelets)
	for i := range facelets {
		facelets[i] = faceLetters[i/9]
	}

	for i := 0; i < 8; i++ {
		for p := 0; p < 3; p++ {
			dst := CornerMap[i][(p+co[i])%3]
			src := CornerMap[cp[i]][p]
			facelets[dst] = faceLetters[src/9]
		}
	}

	for i := 0; i < 12; i++ {
		for p := 0; p < 2; p++ {
			dst := EdgeMap[i][(p+eo[i])%2]
			src := EdgeMap[ep[i]][p]
			facelets[dst] = faceLetters[src/9]
		}
	}

	return string(facelets)
}

// CompleteCorners reconstructs the 8th corner permutation/orientation
// entry from the first 7, using cubing's parity closure: the full
// permutation sums to 28 and the full orientation sums to 0 mod 3.
func CompleteCorners(cp7 [7]int, co7 [7]int) (cp [8]int, co [8]int) {
	sumP, sumO := 0, 0
	for i := 0; i < 7; i++ {
		cp[i] = cp7[i]
		co[i] = co7[i]
		sumP += cp7[i]
		sumO += co7[i]
	}
	cp[7] = 28 - sumP
	co[7] = (3 - sumO%3) % 3
	return cp, co
}

// CompleteEdges reconstructs the 12th edge permutation/orientation entry
// from the first 11: the full permutation sums to 66 and the full
// orientation sums to 0 mod 2.
func CompleteEdges(ep11 [11]int, eo11 [11]int) (ep [12]int, eo [12]int) {
	sumP, sumO := 0, 0
	for i := 0; i < 11; i++ {
		ep[i] = ep11[i]
		eo[i] = eo11[i]
		sumP += ep11[i]
		sumO += eo11[i]
	}
	ep[11] = 66 - sumP
	eo[11] = (2 - sumO%2) % 2
	return ep, eo
}
