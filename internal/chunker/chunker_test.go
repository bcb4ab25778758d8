package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "Sentence one. Sentence two. Sentence three."
	chunks := Split(text, 800, 150)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_EmptyInput(t *testing.T) {
	assert.Nil(t, Split("", 800, 150))
	assert.Nil(t, Split("   \n\t  ", 800, 150))
}

func TestSplit_NoPunctuationFixedWindows(t *testing.T) {
	text := strings.Repeat("a", 2000)
	chunks := Split(text, 800, 150)

	// 无标点时不回扫：步进 = chunkSize - overlap = 650，
	// 窗口为 [0,800) [650,1450) [1300,2000)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 800)
	}
	assert.Len(t, chunks[0], 800)
	assert.Len(t, chunks[1], 800)
	assert.Len(t, chunks[2], 700)
}

func TestSplit_OverlapBudget(t *testing.T) {
	// 无空白、无标点、逐位唯一的文本：分块定位无歧义，也不会被 TrimSpace 缩短
	var sb strings.Builder
	for i := 0; i < 700; i++ {
		sb.WriteString(fmt.Sprintf("%05d", i))
	}
	text := sb.String() // 3500 字符
	chunks := Split(text, 800, 150)
	require.Greater(t, len(chunks), 2)

	prevStart, prevEnd := -1, -1
	search := 0
	for i, c := range chunks {
		idx := strings.Index(text[search:], c)
		require.GreaterOrEqual(t, idx, 0, "chunk %d not found in source", i)
		start := search + idx
		if i > 0 {
			// 无回扫时步进恒为 chunkSize - overlap，相邻分块重叠恰为 overlap
			assert.Equal(t, 650, start-prevStart, "stride between chunk %d and %d", i-1, i)
			assert.Equal(t, 150, prevEnd-start, "overlap between chunk %d and %d", i-1, i)
		}
		prevStart, prevEnd = start, start+len(c)
		search = start + 1
	}
}

func TestSplit_SnapsToSentenceBoundary(t *testing.T) {
	// 句号落在窗口末尾 200 字符的回扫范围内，分块应收缩到句子边界
	first := strings.Repeat("a", 698) + ". "
	second := strings.Repeat("b", 500)
	chunks := Split(first+second, 800, 150)

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("a", 698)+".", chunks[0])
}

func TestSplit_DelimiterPriorityOrder(t *testing.T) {
	// ". " 与 "! " 同处回扫窗口时优先使用 ". "，即便 "! " 更靠右
	text := strings.Repeat("x", 650) + ". " + strings.Repeat("y", 100) + "! " + strings.Repeat("z", 300)
	chunks := Split(text, 800, 150)

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("x", 650)+".", chunks[0])
}

func TestSplit_TotalCoverage(t *testing.T) {
	// 每个句子带唯一编号，保证分块只会在原文的真实位置上匹配
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&sb, "Sentence %d of the corpus talks about topic %d. ", i, i*i)
	}
	text := sb.String()
	chunks := Split(text, 800, 150)
	require.NotEmpty(t, chunks)

	// 每个分块都是原文的连续子串，且分块联合覆盖全文（间隙只允许是空白）
	covered := 0
	search := 0
	for i, c := range chunks {
		idx := strings.Index(text[search:], c)
		require.GreaterOrEqual(t, idx, 0, "chunk %d not found in source", i)
		pos := search + idx
		if pos > covered {
			assert.Equal(t, "", strings.TrimSpace(text[covered:pos]), "gap before chunk %d must be whitespace", i)
		}
		if end := pos + len(c); end > covered {
			covered = end
		}
		search = pos + 1
	}
	assert.Equal(t, "", strings.TrimSpace(text[covered:]), "tail after last chunk must be whitespace")
}

func TestSplit_TerminatesOnAdversarialInput(t *testing.T) {
	// 全空白与全标点输入必须正常终止
	assert.Nil(t, Split(strings.Repeat(" ", 5000), 800, 150))
	chunks := Split(strings.Repeat(". ", 2500), 800, 150)
	assert.NotEmpty(t, chunks)
}

func TestSplit_InvalidOverlapFallsBack(t *testing.T) {
	text := strings.Repeat("c", 1000)
	chunks := Split(text, 400, 400)

	// overlap >= chunkSize 退化为无重叠切分
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 400)
	assert.Len(t, chunks[2], 200)
}
