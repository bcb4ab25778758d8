// Package chunker 将文章正文切分为带重叠、尽量贴合句子边界的文本分块。
// 分块是向量化与检索的最小单元。
package chunker

import "strings"

// backScanWindow 是在每个窗口末尾向前回扫句子边界的最大字符数。
const backScanWindow = 200

// 边界按优先级依次尝试，取首个命中的分隔符（而不是所有分隔符中最靠右的）。
var delimiters = []string{". ", "! ", "? ", "\n\n"}

// Split 将 text 切分为有序分块。chunkSize 为窗口大小，overlap 为相邻分块的重叠预算。
//
// 步进公式 max(start+chunkSize-overlap, end-overlap) 在个别边界回扫场景下会产生
// 小于预期的重叠甚至超过 chunkSize 的跨步。下游的相似度阈值是针对这一确切行为
// 调优的，因此保留原公式，不做"修正"。
func Split(text string, chunkSize, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= chunkSize {
		// 非法的重叠配置退化为无重叠的简单切分
		return simpleSplit(runes, chunkSize)
	}

	// 整体不超过一个窗口时直接作为单块返回
	if len(runes) <= chunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end < len(runes) {
			// 窗口末尾未触及文本末尾时，向前回扫句子或段落边界
			lo := start + chunkSize - backScanWindow
			if lo < start {
				lo = start
			}
			if snapped, ok := snapToDelimiter(runes, lo, end); ok {
				end = snapped
			}
		}
		if end > len(runes) {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// 两个候选步进取较大者：保证前进的同时尽量保留重叠预算
		next := start + chunkSize - overlap
		if end-overlap > next {
			next = end - overlap
		}
		start = next
	}
	return chunks
}

// snapToDelimiter 在 runes[lo:hi) 内按优先级查找最后一个分隔符，
// 返回紧跟分隔符之后的位置。
func snapToDelimiter(runes []rune, lo, hi int) (int, bool) {
	for _, d := range delimiters {
		dr := []rune(d)
		if pos := lastIndexOf(runes, dr, lo, hi); pos != -1 {
			return pos + len(dr), true
		}
	}
	return 0, false
}

// lastIndexOf 返回 needle 在 runes[lo:hi) 中最后一次完整出现的起始下标，无则 -1。
func lastIndexOf(runes, needle []rune, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(runes) {
		hi = len(runes)
	}
	for s := hi - len(needle); s >= lo; s-- {
		match := true
		for i, r := range needle {
			if runes[s+i] != r {
				match = false
				break
			}
		}
		if match {
			return s
		}
	}
	return -1
}

// simpleSplit 按固定窗口切分，不保留重叠。
func simpleSplit(runes []rune, chunkSize int) []string {
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
