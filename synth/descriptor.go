package synth

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// DescriptorProvider 将提示词映射为占位画面的标签与底色。
// 内容创作不在本层职责内，这里只保证映射稳定可复现。
type DescriptorProvider interface {
	Describe(prompt string) (label, color string)
}

// 占位底色盘。取自低饱和色，避免占位片段过于刺眼。
var palette = []string{
	"0x2E4057",
	"0x4A6FA5",
	"0x566E3D",
	"0x7D5BA6",
	"0x8C5E58",
	"0x3A6B6B",
	"0x6B4226",
	"0x44515F",
}

// StaticDescriptor 默认描述器：对提示词做 FNV 哈希选色，
// 标签取提示词前若干个词。同一提示词永远得到同一画面。
type StaticDescriptor struct {
	// MaxLabelWords 标签最多保留的词数，0 表示默认 6。
	MaxLabelWords int
}

func (d StaticDescriptor) Describe(prompt string) (string, string) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	color := palette[h.Sum32()%uint32(len(palette))]

	maxWords := d.MaxLabelWords
	if maxWords <= 0 {
		maxWords = 6
	}
	words := strings.FieldsFunc(prompt, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.'
	})
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	label := strings.Join(words, " ")
	if label == "" {
		label = "generated clip"
	}
	return label, color
}
