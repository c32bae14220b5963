package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	// 自定义用户名长度限制
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

var (
	// 自定义用户名只保留这些字符
	usernameStripRegex = regexp.MustCompile(`[^a-z0-9._-]`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

// NormalizeAddress 去掉空白和尖括号并转为小写。
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress 拆分本地部分和域名，格式不合法时 ok 为 false。
func SplitAddress(address string) (local, domain string, ok bool) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], address[at+1:], true
}

// ParseInboxAddress 规范化并校验收件地址，返回地址和域名。
func ParseInboxAddress(address string) (string, string, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return "", "", ErrAddressRequired
	}
	if len(address) > MaxEmailLength {
		return "", "", ErrInvalidAddress
	}
	local, domainPart, ok := SplitAddress(address)
	if !ok || len(local) > MaxLocalPartLength || strings.ContainsAny(local, " @") {
		return "", "", ErrInvalidAddress
	}
	if !ValidateDomain(domainPart) {
		return "", "", ErrInvalidAddress
	}
	return address, domainPart, nil
}

// SanitizeUsername 小写并移除不允许的字符。
func SanitizeUsername(username string) string {
	return usernameStripRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(username)), "")
}

// ValidateUsername 校验清洗后的自定义用户名长度。
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	return nil
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}
	return domainRegex.MatchString(strings.ToLower(domain))
}

// ValidateForwardAddress 校验转发地址，返回规范化后的纯地址。
func ValidateForwardAddress(address string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return "", ErrInvalidAddress
	}
	normalized, _, err := ParseInboxAddress(parsed.Address)
	if err != nil {
		return "", ErrInvalidAddress
	}
	return normalized, nil
}
