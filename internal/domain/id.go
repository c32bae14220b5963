package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GeneratedUsernameLength 系统生成用户名的长度
const GeneratedUsernameLength = 10

// NewMessageID 生成 "<毫秒时间戳>-<9位base36随机串>" 形式的邮件 ID。
func NewMessageID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + randomString(9)
}

// GenerateUsername 生成随机用户名
func GenerateUsername() string {
	return randomString(GeneratedUsernameLength)
}

func randomString(n int) string {
	buf := make([]byte, n)
	limit := big.NewInt(int64(len(base36Alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		buf[i] = base36Alphabet[idx.Int64()]
	}
	return string(buf)
}
