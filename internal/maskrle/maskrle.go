// Package maskrle encodes binary segmentation masks into the
// run-length string format the Writer embeds in masks.parquet.
//
// Grounded on egoworld/utils/mask.py's encode_mask_rle, which prefers
// pycocotools' compressed ASCII counts and falls back to a plain
// integer run-length array when that C extension is unavailable. No
// library in the example corpus wraps pycocotools' RLE format, so per
// DESIGN.md only the stdlib fallback shape is implemented here: a JSON
// document {"size":[H,W],"counts":[...]} with integer run lengths,
// column-major, starting with a (possibly zero-length) run of zeros.
package maskrle

import "encoding/json"

// Encoding is the JSON-serializable shape written into mask_rle
// columns.
type Encoding struct {
	Size   [2]int `json:"size"`
	Counts []int  `json:"counts"`
}

// EncodeRLE run-length encodes a H×W {0,1}-valued mask in column-major
// order and returns the JSON-encoded Encoding string. An empty mask
// (H==0 or W==0) yields counts=[0].
func EncodeRLE(mask [][]uint8) (string, error) {
	h := len(mask)
	w := 0
	if h > 0 {
		w = len(mask[0])
	}

	enc := Encoding{Size: [2]int{h, w}}
	if h == 0 || w == 0 {
		enc.Counts = []int{0}
		return marshal(enc)
	}

	counts := make([]int, 0, h*w/4+1)
	current := uint8(0) // runs always begin counting zeros, per the source
	run := 0
	for col := 0; col < w; col++ {
		for row := 0; row < h; row++ {
			v := mask[row][col]
			if v == current {
				run++
				continue
			}
			counts = append(counts, run)
			current = v
			run = 1
		}
	}
	counts = append(counts, run)
	enc.Counts = counts

	return marshal(enc)
}

func marshal(enc Encoding) (string, error) {
	b, err := json.Marshal(enc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses an Encoding back out of its JSON string form. Not
// required by the core pipeline; provided for tests and tooling that
// need to inspect written masks.
func Decode(s string) (Encoding, error) {
	var enc Encoding
	err := json.Unmarshal([]byte(s), &enc)
	return enc, err
}
