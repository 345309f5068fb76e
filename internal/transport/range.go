package transport

import "bytes"

func checkNum(num, count int) error {
	if num < 1 || num > count {
		return &NoSuchMessageError{Num: num}
	}
	return nil
}

// subset picks count numbers from nums starting at the 1-based position
// offset. A count of 0 takes everything from offset on.
func subset(nums []int, offset, count int) ([]int, error) {
	if count < 0 {
		return nil, &InvalidLimitError{Offset: offset, Count: count}
	}
	if offset < 1 || offset > len(nums) {
		return nil, &OffsetOutOfRangeError{Offset: offset, Count: count}
	}
	end := len(nums)
	if count > 0 {
		end = offset - 1 + count
		if end > len(nums) {
			return nil, &OffsetOutOfRangeError{Offset: offset, Count: count}
		}
	}
	out := make([]int, end-offset+1)
	copy(out, nums[offset-1:end])
	return out, nil
}

func numbers(infos []MessageInfo) []int {
	out := make([]int, len(infos))
	for i, info := range infos {
		out[i] = info.Num
	}
	return out
}

// top returns the header block of raw and the first n lines of its body.
func top(raw []byte, n int) []byte {
	rest := raw
	for len(rest) > 0 {
		line, next := cutLine(rest)
		rest = next
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			break
		}
	}
	headerLen := len(raw) - len(rest)
	return append(raw[:headerLen:headerLen], head(rest, n)...)
}

// head returns the first n lines of body.
func head(body []byte, n int) []byte {
	rest := body
	for ; n > 0 && len(rest) > 0; n-- {
		_, rest = cutLine(rest)
	}
	return body[:len(body)-len(rest)]
}

func cutLine(b []byte) (line, rest []byte) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i+1], b[i+1:]
	}
	return b, nil
}
