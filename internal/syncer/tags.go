package syncer

import (
	"regexp"
	"strings"

	"github.com/jamstream/server/internal/domain"
)

// tagPattern 规范化后标签的合法形式
var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-]{1,20}$`)

// NormalizeTags 规范化标签候选列表
// 小写并去首尾空白，丢弃非法字符，去重，最多保留5个
func NormalizeTags(candidates []string) []string {
	if len(candidates) > domain.MaxTagsPerRoom {
		candidates = candidates[:domain.MaxTagsPerRoom]
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if !tagPattern.MatchString(tag) {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
