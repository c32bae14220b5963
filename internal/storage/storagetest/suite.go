// Package storagetest 提供所有 storage.Store 实现共用的行为测试。
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
)

// Factory 为每个子测试创建一个全新的空存储。
type Factory func(t *testing.T) storage.Store

// Base 所有用例使用的基准时间（毫秒精度，便于 SQL 后端往返）。
var Base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testCase struct {
	name string
	fn   func(t *testing.T, s storage.Store)
}

var cases = []testCase{
	{"插入并读取收件箱", testInsertAndGetInbox},
	{"重复插入返回冲突", testInsertInboxConflict},
	{"并发注册同一地址只有一个成功", testConcurrentInsertInbox},
	{"EnsureInbox 幂等", testEnsureInboxIdempotent},
	{"UpsertInbox 覆盖元数据并保留邮件", testUpsertInbox},
	{"延期截断到最大生存期", testExtendInbox},
	{"设置转发地址", testSetForwardAddress},
	{"删除收件箱级联删除邮件", testDeleteInboxCascade},
	{"列出有效收件箱", testListActiveInboxes},
	{"邮件按 ID 幂等插入", testInsertMessageIdempotent},
	{"收件箱不存在时拒绝插入邮件", testInsertMessageWithoutInbox},
	{"列表按日期倒序且排除已删除", testListMessagesOrdering},
	{"读取邮件并标记已读", testGetAndMarkRead},
	{"搜索不区分大小写", testSearchMessages},
	{"搜索非 ASCII 文本不区分大小写", testSearchMessagesUnicode},
	{"软删除后恢复", testSoftDeleteRestore},
	{"批量软删除", testSoftDeleteAll},
	{"永久删除", testPermanentDelete},
	{"收件箱统计", testInboxStats},
	{"清理过期收件箱", testDeleteExpiredInboxes},
	{"清理过期回收站", testPurgeTrash},
	{"全局统计", testGlobalStats},
	{"附件往返", testAttachmentsRoundTrip},
}

// Run 对 factory 创建的存储运行全部用例。
func Run(t *testing.T, factory Factory) {
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func newInbox(address string) *domain.Inbox {
	return domain.NewInbox(address, false, Base, time.Hour, 2*time.Hour)
}

func newMessage(address, id string, date time.Time) *domain.Message {
	return &domain.Message{
		ID:           id,
		InboxAddress: address,
		From:         "Bob <bob@x.com>",
		Subject:      "Subject " + id,
		Text:         "text body " + id,
		HTML:         "<p>" + id + "</p>",
		Date:         date,
		Attachments:  []domain.Attachment{},
	}
}

func mustInbox(t *testing.T, s storage.Store, address string) *domain.Inbox {
	t.Helper()
	inbox := newInbox(address)
	require.NoError(t, s.InsertInbox(context.Background(), inbox))
	return inbox
}

func mustMessage(t *testing.T, s storage.Store, msg *domain.Message) {
	t.Helper()
	inserted, err := s.InsertMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, inserted)
}

func assertSameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func ids(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func testInsertAndGetInbox(t *testing.T, s storage.Store) {
	ctx := context.Background()
	inbox := mustInbox(t, s, "alice@tempmail.local")

	got, err := s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, inbox.Address, got.Address)
	assert.Equal(t, "tempmail.local", got.Domain)
	assert.False(t, got.IsCustom)
	assertSameTime(t, inbox.CreatedAt, got.CreatedAt)
	assertSameTime(t, inbox.ExpiresAt, got.ExpiresAt)
	assertSameTime(t, inbox.MaxExpiresAt, got.MaxExpiresAt)

	_, err = s.GetInbox(ctx, "nobody@tempmail.local")
	assert.ErrorIs(t, err, domain.ErrInboxNotFound)
}

func testInsertInboxConflict(t *testing.T, s storage.Store) {
	mustInbox(t, s, "alice@tempmail.local")
	err := s.InsertInbox(context.Background(), newInbox("alice@tempmail.local"))
	assert.ErrorIs(t, err, domain.ErrAddressTaken)
}

func testConcurrentInsertInbox(t *testing.T, s storage.Store) {
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertInbox(context.Background(), newInbox("race@tempmail.local"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, domain.ErrAddressTaken):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func testEnsureInboxIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first, created, err := s.EnsureInbox(ctx, newInbox("alice@tempmail.local"))
	require.NoError(t, err)
	assert.True(t, created)

	later := domain.NewInbox("alice@tempmail.local", true, Base.Add(30*time.Minute), time.Hour, 2*time.Hour)
	second, created, err := s.EnsureInbox(ctx, later)
	require.NoError(t, err)
	assert.False(t, created)

	// 与已有记录同一毫秒创建的候选也不算新建
	_, created, err = s.EnsureInbox(ctx, newInbox("alice@tempmail.local"))
	require.NoError(t, err)
	assert.False(t, created)

	assertSameTime(t, first.ExpiresAt, second.ExpiresAt)
	assertSameTime(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.IsCustom)

	active, err := s.ListActiveInboxes(ctx, Base)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func testUpsertInbox(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))

	refreshed := domain.NewInbox("alice@tempmail.local", true, Base.Add(3*time.Hour), time.Hour, 2*time.Hour)
	require.NoError(t, s.UpsertInbox(ctx, refreshed))

	got, err := s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.True(t, got.IsCustom)
	assertSameTime(t, refreshed.ExpiresAt, got.ExpiresAt)

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	fresh := newInbox("bob@tempmail.local")
	require.NoError(t, s.UpsertInbox(ctx, fresh))
	_, err = s.GetInbox(ctx, "bob@tempmail.local")
	assert.NoError(t, err)
}

func testExtendInbox(t *testing.T, s storage.Store) {
	ctx := context.Background()
	inbox := mustInbox(t, s, "alice@tempmail.local")

	got, err := s.ExtendInbox(ctx, inbox.Address, 30*time.Minute)
	require.NoError(t, err)
	assertSameTime(t, inbox.ExpiresAt.Add(30*time.Minute), got.ExpiresAt)

	got, err = s.ExtendInbox(ctx, inbox.Address, time.Hour)
	require.NoError(t, err)
	assertSameTime(t, inbox.MaxExpiresAt, got.ExpiresAt)

	for i := 0; i < 2; i++ {
		_, err = s.ExtendInbox(ctx, inbox.Address, time.Hour)
		assert.ErrorIs(t, err, domain.ErrAlreadyMaxed)
	}
	after, err := s.GetInbox(ctx, inbox.Address)
	require.NoError(t, err)
	assertSameTime(t, inbox.MaxExpiresAt, after.ExpiresAt)

	_, err = s.ExtendInbox(ctx, "nobody@tempmail.local", time.Hour)
	assert.ErrorIs(t, err, domain.ErrInboxNotFound)
}

func testSetForwardAddress(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")

	require.NoError(t, s.SetForwardAddress(ctx, "alice@tempmail.local", "real@example.com"))
	got, err := s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, "real@example.com", got.ForwardTo)

	require.NoError(t, s.SetForwardAddress(ctx, "alice@tempmail.local", ""))
	got, err = s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, got.ForwardTo)

	err = s.SetForwardAddress(ctx, "nobody@tempmail.local", "real@example.com")
	assert.ErrorIs(t, err, domain.ErrInboxNotFound)
}

func testDeleteInboxCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))
	mustMessage(t, s, newMessage("alice@tempmail.local", "m2", Base.Add(time.Minute)))

	deleted, err := s.DeleteInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.True(t, deleted)

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, messages)
	_, err = s.GetMessage(ctx, "alice@tempmail.local", "m1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	stats, err := s.GlobalStats(ctx, Base)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalReceived)

	deleted, err = s.DeleteInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testListActiveInboxes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	old := domain.NewInbox("old@tempmail.local", false, Base.Add(-3*time.Hour), time.Hour, 2*time.Hour)
	require.NoError(t, s.InsertInbox(ctx, old))

	active, err := s.ListActiveInboxes(ctx, Base)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice@tempmail.local", active[0].Address)

	active, err = s.ListActiveInboxes(ctx, Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testInsertMessageIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))

	dup := newMessage("alice@tempmail.local", "m1", Base.Add(time.Minute))
	dup.Subject = "changed"
	inserted, err := s.InsertMessage(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Subject m1", messages[0].Subject)
}

func testInsertMessageWithoutInbox(t *testing.T, s storage.Store) {
	_, err := s.InsertMessage(context.Background(), newMessage("ghost@tempmail.local", "m1", Base))
	assert.ErrorIs(t, err, domain.ErrInboxNotFound)
}

func testListMessagesOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustInbox(t, s, "bob@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "old", Base))
	mustMessage(t, s, newMessage("alice@tempmail.local", "new", Base.Add(2*time.Minute)))
	mustMessage(t, s, newMessage("alice@tempmail.local", "mid", Base.Add(time.Minute)))
	mustMessage(t, s, newMessage("alice@tempmail.local", "gone", Base.Add(3*time.Minute)))
	mustMessage(t, s, newMessage("bob@tempmail.local", "other", Base))

	ok, err := s.SoftDelete(ctx, "alice@tempmail.local", "gone", Base.Add(4*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(messages))
	for _, m := range messages {
		assert.False(t, m.Deleted)
		assert.Nil(t, m.DeletedAt)
	}

	messages, err = s.ListMessages(ctx, "nobody@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func testGetAndMarkRead(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustInbox(t, s, "bob@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))

	msg, err := s.GetMessage(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	assert.False(t, msg.Read)
	assert.Equal(t, "Bob <bob@x.com>", msg.From)
	assertSameTime(t, Base, msg.Date)

	require.NoError(t, s.MarkRead(ctx, "alice@tempmail.local", "m1"))
	require.NoError(t, s.MarkRead(ctx, "alice@tempmail.local", "m1"))
	msg, err = s.GetMessage(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	assert.True(t, msg.Read)

	_, err = s.GetMessage(ctx, "bob@tempmail.local", "m1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	assert.ErrorIs(t, s.MarkRead(ctx, "bob@tempmail.local", "m1"), domain.ErrMessageNotFound)

	_, err = s.SoftDelete(ctx, "alice@tempmail.local", "m1", Base.Add(time.Minute))
	require.NoError(t, err)
	msg, err = s.GetMessage(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	assert.True(t, msg.Deleted)
}

func testSearchMessages(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")

	a := newMessage("alice@tempmail.local", "a", Base)
	a.Subject = "Invoice March"
	b := newMessage("alice@tempmail.local", "b", Base.Add(time.Minute))
	b.From = "Billing <INVOICE@shop.com>"
	c := newMessage("alice@tempmail.local", "c", Base.Add(2*time.Minute))
	c.Text = "please pay the invoice"
	d := newMessage("alice@tempmail.local", "d", Base.Add(3*time.Minute))
	d.Subject = "unrelated"
	e := newMessage("alice@tempmail.local", "e", Base.Add(4*time.Minute))
	e.Subject = "invoice trashed"
	for _, m := range []*domain.Message{a, b, c, d, e} {
		mustMessage(t, s, m)
	}
	_, err := s.SoftDelete(ctx, "alice@tempmail.local", "e", Base.Add(5*time.Minute))
	require.NoError(t, err)

	found, err := s.SearchMessages(ctx, "alice@tempmail.local", "INVOICE")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(found))

	found, err = s.SearchMessages(ctx, "alice@tempmail.local", "%")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testSearchMessagesUnicode(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")

	a := newMessage("alice@tempmail.local", "a", Base)
	a.Subject = "Überweisung erhalten"
	b := newMessage("alice@tempmail.local", "b", Base.Add(time.Minute))
	b.Text = "您的验证码 ÇA VA"
	mustMessage(t, s, a)
	mustMessage(t, s, b)

	for _, query := range []string{"Überweisung", "ÜBERWEISUNG", "überweisung"} {
		found, err := s.SearchMessages(ctx, "alice@tempmail.local", query)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(found), query)
	}

	found, err := s.SearchMessages(ctx, "alice@tempmail.local", "ça va")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(found))

	found, err = s.SearchMessages(ctx, "alice@tempmail.local", "验证码")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(found))
}

func testSoftDeleteRestore(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))
	mustMessage(t, s, newMessage("alice@tempmail.local", "m2", Base.Add(time.Minute)))

	ok, err := s.SoftDelete(ctx, "alice@tempmail.local", "m1", Base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SoftDelete(ctx, "alice@tempmail.local", "m2", Base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SoftDelete(ctx, "alice@tempmail.local", "m1", Base.Add(4*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	trash, err := s.ListTrash(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m1"}, ids(trash))
	require.NotNil(t, trash[1].DeletedAt)
	assertSameTime(t, Base.Add(2*time.Minute), *trash[1].DeletedAt)

	ok, err = s.Restore(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Restore(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids(messages))
	assert.False(t, messages[0].Deleted)
	assert.Nil(t, messages[0].DeletedAt)

	ok, err = s.SoftDelete(ctx, "alice@tempmail.local", "missing", Base)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSoftDeleteAll(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustInbox(t, s, "bob@tempmail.local")
	for i := 0; i < 3; i++ {
		mustMessage(t, s, newMessage("alice@tempmail.local", fmt.Sprintf("m%d", i), Base.Add(time.Duration(i)*time.Minute)))
	}
	mustMessage(t, s, newMessage("bob@tempmail.local", "b1", Base))
	_, err := s.SoftDelete(ctx, "alice@tempmail.local", "m0", Base.Add(time.Minute))
	require.NoError(t, err)

	n, err := s.SoftDeleteAll(ctx, "alice@tempmail.local", Base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SoftDeleteAll(ctx, "alice@tempmail.local", Base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	trash, err := s.ListTrash(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Len(t, trash, 3)

	bob, err := s.ListMessages(ctx, "bob@tempmail.local")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func testPermanentDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "m1", Base))
	mustMessage(t, s, newMessage("alice@tempmail.local", "m2", Base))
	_, err := s.SoftDelete(ctx, "alice@tempmail.local", "m2", Base.Add(time.Minute))
	require.NoError(t, err)

	for _, id := range []string{"m1", "m2"} {
		ok, err := s.PermanentDelete(ctx, "alice@tempmail.local", id)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.PermanentDelete(ctx, "alice@tempmail.local", id)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, messages)
	trash, err := s.ListTrash(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func testInboxStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")

	stats, err := s.InboxStats(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStats{}, stats)

	for i := 0; i < 4; i++ {
		mustMessage(t, s, newMessage("alice@tempmail.local", fmt.Sprintf("m%d", i), Base))
	}
	require.NoError(t, s.MarkRead(ctx, "alice@tempmail.local", "m0"))
	require.NoError(t, s.MarkRead(ctx, "alice@tempmail.local", "m1"))
	_, err = s.SoftDelete(ctx, "alice@tempmail.local", "m1", Base)
	require.NoError(t, err)

	stats, err = s.InboxStats(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStats{TotalReceived: 4, TotalRead: 2, TotalDeleted: 1}, stats)
}

func testDeleteExpiredInboxes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	expiring := mustInbox(t, s, "alice@tempmail.local")
	later := domain.NewInbox("bob@tempmail.local", false, Base.Add(time.Minute), time.Hour, 2*time.Hour)
	require.NoError(t, s.InsertInbox(ctx, later))
	mustMessage(t, s, newMessage("alice@tempmail.local", "a1", Base))
	mustMessage(t, s, newMessage("alice@tempmail.local", "a2", Base))
	mustMessage(t, s, newMessage("bob@tempmail.local", "b1", Base))

	inboxes, messages, err := s.DeleteExpiredInboxes(ctx, Base)
	require.NoError(t, err)
	assert.Zero(t, inboxes)
	assert.Zero(t, messages)

	inboxes, messages, err = s.DeleteExpiredInboxes(ctx, expiring.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, 1, inboxes)
	assert.Equal(t, 2, messages)

	_, err = s.GetInbox(ctx, "alice@tempmail.local")
	assert.ErrorIs(t, err, domain.ErrInboxNotFound)
	_, err = s.GetMessage(ctx, "alice@tempmail.local", "a1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	bob, err := s.ListMessages(ctx, "bob@tempmail.local")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func testPurgeTrash(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	for _, id := range []string{"old", "recent", "kept"} {
		mustMessage(t, s, newMessage("alice@tempmail.local", id, Base))
	}
	_, err := s.SoftDelete(ctx, "alice@tempmail.local", "old", Base)
	require.NoError(t, err)
	_, err = s.SoftDelete(ctx, "alice@tempmail.local", "recent", Base.Add(50*time.Minute))
	require.NoError(t, err)

	n, err := s.PurgeTrash(ctx, Base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trash, err := s.ListTrash(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, ids(trash))
	messages, err := s.ListMessages(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(messages))

	n, err = s.PurgeTrash(ctx, Base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testGlobalStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	mustInbox(t, s, "bob@tempmail.local")
	mustMessage(t, s, newMessage("alice@tempmail.local", "a1", Base))
	mustMessage(t, s, newMessage("bob@tempmail.local", "b1", Base))
	mustMessage(t, s, newMessage("bob@tempmail.local", "b2", Base))
	_, err := s.SoftDelete(ctx, "bob@tempmail.local", "b2", Base)
	require.NoError(t, err)

	stats, err := s.GlobalStats(ctx, Base)
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalStats{TotalReceived: 3, TotalDeleted: 1, ActiveInboxes: 2}, stats)

	stats, err = s.GlobalStats(ctx, Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveInboxes)
}

func testAttachmentsRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustInbox(t, s, "alice@tempmail.local")
	msg := newMessage("alice@tempmail.local", "m1", Base)
	msg.Attachments = []domain.Attachment{
		domain.NewAttachment("a.txt", "text/plain", []byte("hello")),
		domain.NewAttachment("b.bin", "", []byte{0, 1, 2, 255}),
	}
	mustMessage(t, s, msg)

	got, err := s.GetMessage(ctx, "alice@tempmail.local", "m1")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, msg.Attachments, got.Attachments)

	data, err := got.Attachments[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255}, data)
}
