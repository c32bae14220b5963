package storage

import (
	"sort"
	"strings"
	"time"

	"tempmail/inbox/internal/domain"
)

func sortMessagesBy(messages []domain.Message, key func(*domain.Message) time.Time) {
	sort.SliceStable(messages, func(i, j int) bool {
		ki, kj := key(&messages[i]), key(&messages[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return messages[i].ID > messages[j].ID
	})
}

// MatchesQuery 判断邮件的主题、发件人或正文是否包含 query（不区分大小写）。
func MatchesQuery(m *domain.Message, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(m.Subject), q) ||
		strings.Contains(strings.ToLower(m.From), q) ||
		strings.Contains(strings.ToLower(m.Text), q)
}

// LikePattern 生成转义后的 LIKE 模式，转义字符为 '!'。
func LikePattern(query string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}
