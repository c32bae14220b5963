package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
)

func seedMessages(t *testing.T, f *fixture) {
	t.Helper()
	f.mustIngest(t, IngestInput{ID: "m1", To: "alice@tempmail.local", From: "Bob <bob@x.com>", Subject: "Invoice 42", Text: "pay me", Date: base})
	f.mustIngest(t, IngestInput{ID: "m2", To: "alice@tempmail.local", From: "carol@y.com", Subject: "Lunch", Text: "100% tasty", Date: base.Add(time.Minute)})
	f.mustIngest(t, IngestInput{ID: "m3", To: "alice@tempmail.local", From: "dave@z.com", Subject: "Report", Text: "see INVOICE", Date: base.Add(2 * time.Minute)})
}

func ids(messages []domain.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestMessageService_ListAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedMessages(t, f)

	t.Run("按日期倒序", func(t *testing.T) {
		messages, err := f.messages.List(ctx, "ALICE@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, []string{"m3", "m2", "m1"}, ids(messages))
	})

	t.Run("地址必填", func(t *testing.T) {
		_, err := f.messages.List(ctx, "")
		assert.ErrorIs(t, err, domain.ErrAddressRequired)
	})

	t.Run("未知地址返回空列表", func(t *testing.T) {
		messages, err := f.messages.List(ctx, "ghost@tempmail.local")
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("读取后标记已读", func(t *testing.T) {
		msg, err := f.messages.Get(ctx, "alice@tempmail.local", "m1")
		require.NoError(t, err)
		assert.True(t, msg.Read)

		again, err := f.messages.Get(ctx, "alice@tempmail.local", "m1")
		require.NoError(t, err)
		assert.True(t, again.Read)

		stats, err := f.messages.Stats(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, domain.InboxStats{TotalReceived: 3, TotalRead: 1, TotalDeleted: 0}, stats)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := f.messages.Get(ctx, "alice@tempmail.local", "nope")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestMessageService_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedMessages(t, f)

	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{"匹配主题与正文且不区分大小写", "invoice", []string{"m3", "m1"}},
		{"匹配发件人", "carol", []string{"m2"}},
		{"百分号按字面匹配", "100%", []string{"m2"}},
		{"空查询等同于列表", "  ", []string{"m3", "m2", "m1"}},
		{"无匹配", "zzz", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			messages, err := f.messages.Search(ctx, "alice@tempmail.local", tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(messages))
		})
	}
}

func TestMessageService_TrashLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedMessages(t, f)

	t.Run("软删除后离开列表进入回收站", func(t *testing.T) {
		require.NoError(t, f.messages.SoftDelete(ctx, "alice@tempmail.local", "m2"))

		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, []string{"m3", "m1"}, ids(messages))

		trash, err := f.messages.Trash(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		require.Len(t, trash, 1)
		assert.True(t, trash[0].Deleted)
		require.NotNil(t, trash[0].DeletedAt)
	})

	t.Run("重复软删除返回不存在", func(t *testing.T) {
		err := f.messages.SoftDelete(ctx, "alice@tempmail.local", "m2")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("恢复后回到原状态", func(t *testing.T) {
		require.NoError(t, f.messages.Restore(ctx, "alice@tempmail.local", "m2"))

		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, []string{"m3", "m2", "m1"}, ids(messages))
		assert.False(t, messages[1].Deleted)
		assert.Nil(t, messages[1].DeletedAt)
	})

	t.Run("恢复不在回收站的邮件", func(t *testing.T) {
		err := f.messages.Restore(ctx, "alice@tempmail.local", "m2")
		assert.ErrorIs(t, err, domain.ErrNotInTrash)
	})

	t.Run("全部软删除", func(t *testing.T) {
		n, err := f.messages.SoftDeleteAll(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = f.messages.SoftDeleteAll(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("永久删除", func(t *testing.T) {
		require.NoError(t, f.messages.PermanentDelete(ctx, "alice@tempmail.local", "m1"))
		err := f.messages.PermanentDelete(ctx, "alice@tempmail.local", "m1")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)

		trash, err := f.messages.Trash(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"m2", "m3"}, ids(trash))
	})

	t.Run("统计包含已删除", func(t *testing.T) {
		stats, err := f.messages.Stats(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalReceived)
		assert.Equal(t, 2, stats.TotalDeleted)
	})
}

func TestMessageService_GlobalStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedMessages(t, f)
	f.mustIngest(t, IngestInput{To: "bob@tempmail.local", From: "x@y.com"})
	require.NoError(t, f.messages.SoftDelete(ctx, "alice@tempmail.local", "m1"))

	stats, err := f.messages.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalStats{TotalReceived: 4, TotalDeleted: 1, ActiveInboxes: 2}, stats)
}
