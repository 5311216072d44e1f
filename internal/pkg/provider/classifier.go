package provider

import (
	"regexp"
	"strings"
)

// Classifier 判断一条输入是否为生图请求
type Classifier interface {
	IsImageRequest(text string) bool
}

var defaultImageKeywords = []string{"show me", "draw", "image of", "picture of", "dikhao", "banao", "tasveer"}

// KeywordClassifier 基于关键词的生图判定
type KeywordClassifier struct {
	pattern *regexp.Regexp
}

// NewKeywordClassifier keywords 为空时使用默认关键词
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) == 0 {
		for _, k := range defaultImageKeywords {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return &KeywordClassifier{
		pattern: regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`),
	}
}

func (k *KeywordClassifier) IsImageRequest(text string) bool {
	return k.pattern.MatchString(text)
}
