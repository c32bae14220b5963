package domain

import "time"

// Inbox 表示一个有生命周期的临时收件地址。
//
// 不变式: CreatedAt <= ExpiresAt <= MaxExpiresAt。
type Inbox struct {
	Address      string    `json:"address"`
	Domain       string    `json:"domain"`
	IsCustom     bool      `json:"isCustom"`
	ForwardTo    string    `json:"forwardTo,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MaxExpiresAt time.Time `json:"maxExpiresAt"`
}

// NewInbox 按初始 TTL 和最大 TTL 构造收件箱，address 需已规范化。
func NewInbox(address string, isCustom bool, now time.Time, initialTTL, maxTTL time.Duration) *Inbox {
	_, domainPart, _ := SplitAddress(address)
	now = now.UTC()
	return &Inbox{
		Address:      address,
		Domain:       domainPart,
		IsCustom:     isCustom,
		CreatedAt:    now,
		ExpiresAt:    now.Add(initialTTL),
		MaxExpiresAt: now.Add(maxTTL),
	}
}

// ActiveAt 判断收件箱在 now 时刻是否仍然有效。
func (i *Inbox) ActiveAt(now time.Time) bool {
	return i.ExpiresAt.After(now)
}

// CanExtend 还能否延期
func (i *Inbox) CanExtend() bool {
	return i.ExpiresAt.Before(i.MaxExpiresAt)
}

// RemainingExtension 返回距最大生存期还可延长的时长。
func (i *Inbox) RemainingExtension() time.Duration {
	if !i.CanExtend() {
		return 0
	}
	return i.MaxExpiresAt.Sub(i.ExpiresAt)
}

// InboxView 是对外返回的收件箱视图，附带派生字段。
type InboxView struct {
	Inbox
	CanExtend              bool `json:"canExtend"`
	RemainingExtendMinutes int  `json:"remainingExtendMinutes"`
}

// NewInboxView 根据收件箱计算派生字段。
func NewInboxView(inbox *Inbox) *InboxView {
	return &InboxView{
		Inbox:                  *inbox,
		CanExtend:              inbox.CanExtend(),
		RemainingExtendMinutes: int(inbox.RemainingExtension() / time.Minute),
	}
}
