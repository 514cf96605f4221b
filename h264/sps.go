package h264

import "errors"

var errSPSTooShort = errors.New("h264: SPS data too short")

// SPSInfo holds the parameters the pipeline needs from a Sequence
// Parameter Set: the coded picture dimensions after cropping.
type SPSInfo struct {
	Width      uint32
	Height     uint32
	ProfileIDC byte
	LevelIDC   byte
}

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	v := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return v, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var v uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// readUE reads an unsigned Exp-Golomb code.
func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<zeros - 1 + suffix, nil
}

// readSE reads a signed Exp-Golomb code.
func (br *bitReader) readSE() (int, error) {
	v, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int(v / 2), nil
	}
	return int(v+1) / 2, nil
}

func (br *bitReader) skipScalingList(size int) error {
	last, next := 8, 8
	for i := 0; i < size; i++ {
		if next != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

// removeEmulationPrevention strips 0x03 emulation-prevention bytes from an
// RBSP so the bit reader sees the raw payload.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros == 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// highProfileIDCs are the profiles whose SPS carries chroma and scaling
// fields ahead of the dimension fields.
var highProfileIDCs = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS extracts the coded dimensions from an SPS NAL unit. The input
// is the raw NAL data including the header byte, without a start code.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}

	br := &bitReader{data: removeEmulationPrevention(nalu[1:])}

	profileIDC, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readBits(8); err != nil { // constraint flags
		return SPSInfo{}, err
	}
	levelIDC, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readUE(); err != nil { // sps_id
		return SPSInfo{}, err
	}

	chromaFormatIDC := uint(1)
	separateColourPlane := false
	if highProfileIDCs[profileIDC] {
		if chromaFormatIDC, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIDC == 3 {
			v, err := br.readBit()
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = v == 1
		}
		if _, err := br.readUE(); err != nil { // bit_depth_luma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil { // bit_depth_chroma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readBit(); err != nil { // transform_bypass
			return SPSInfo{}, err
		}
		scaling, err := br.readBit()
		if err != nil {
			return SPSInfo{}, err
		}
		if scaling == 1 {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := br.readBit()
				if err != nil {
					return SPSInfo{}, err
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch pocType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBit(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		cycle, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < cycle; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBit(); err != nil { // gaps_in_frame_num
		return SPSInfo{}, err
	}

	widthMBs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBit()
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBit(); err != nil { // mb_adaptive_frame_field
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBit(); err != nil { // direct_8x8_inference
		return SPSInfo{}, err
	}

	width := (widthMBs + 1) * 16
	height := (2 - frameMbsOnly) * (heightMapUnits + 1) * 16

	cropping, err := br.readBit()
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping == 1 {
		left, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		right, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		top, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		bottom, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}

		chromaArrayType := chromaFormatIDC
		if separateColourPlane {
			chromaArrayType = 0
		}
		unitX, unitY := uint(1), uint(2-frameMbsOnly)
		switch chromaArrayType {
		case 1:
			unitX, unitY = 2, 2*(2-frameMbsOnly)
		case 2:
			unitX, unitY = 2, 1*(2-frameMbsOnly)
		case 3:
			unitX, unitY = 1, 1*(2-frameMbsOnly)
		}
		width -= (left + right) * unitX
		height -= (top + bottom) * unitY
	}

	return SPSInfo{
		Width:      uint32(width),
		Height:     uint32(height),
		ProfileIDC: byte(profileIDC),
		LevelIDC:   byte(levelIDC),
	}, nil
}
