package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codechat/internal/domain"
	"codechat/internal/security"
	"codechat/internal/service"
	"codechat/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	svc   *service.MessageService
	alice *domain.User
	bob   *domain.User
	carol *domain.User
	group *domain.Group
}

// newFixture backs the service with the memory store so persistence,
// ordering and pruning behave exactly as in the default deployment.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	encryptor, err := security.NewEncryptor([]byte("test-key"))
	require.NoError(t, err)

	svc := service.NewMessageService(store.Users(), store.Groups(), store.Messages(), encryptor, 100)

	f := &fixture{store: store, svc: svc}
	for _, u := range []struct {
		name string
		dst  **domain.User
	}{{"alice", &f.alice}, {"bob", &f.bob}, {"carol", &f.carol}} {
		user := &domain.User{Username: u.name, HashedPassword: "x", IsActive: true}
		require.NoError(t, store.Users().Create(ctx, user))
		*u.dst = user
	}

	f.group = &domain.Group{Name: "backend"}
	require.NoError(t, store.Groups().Create(ctx, f.group, f.alice.ID))
	require.NoError(t, store.Groups().AppendMember(ctx, f.group.ID, f.bob.ID, false))
	return f
}

func TestCreateMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("DirectMessageEncryptedAtRest", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			Text:        "hello bob",
		}, f.alice.ID)
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.NotEqual(t, "hello bob", msg.Text, "stored text is ciphertext")

		resp, err := f.svc.ToResponse(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "hello bob", resp.Text)
		assert.Equal(t, "alice", resp.Sender.Username)
	})

	t.Run("TargetExclusivity", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{Text: "hi"}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			GroupID:     &f.group.ID,
			Text:        "hi",
		}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("EmptyContentRejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{RecipientID: &f.bob.ID}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)

		// A snippet alone is enough content.
		_, err = f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID:  &f.bob.ID,
			CodeSnippets: []domain.CodeSnippet{{Language: "go", Code: "package main"}},
		}, f.alice.ID)
		assert.NoError(t, err)
	})

	t.Run("OversizedTextRejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			Text:        strings.Repeat("a", 5001),
		}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("SelfDirectMessageRejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.alice.ID,
			Text:        "hi me",
		}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("UnknownRecipient", func(t *testing.T) {
		f := newFixture(t)
		missing := int64(999)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &missing,
			Text:        "hi",
		}, f.alice.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("GroupNonMemberForbidden", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			GroupID: &f.group.ID,
			Text:    "hi all",
		}, f.carol.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("RetentionCapPrunesOldest", func(t *testing.T) {
		f := newFixture(t)
		f.svc.MaxMessagesPerConversation = 3

		for i := 0; i < 5; i++ {
			_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
				RecipientID: &f.bob.ID,
				Text:        "msg",
			}, f.alice.ID)
			require.NoError(t, err)
		}

		msgs, err := f.svc.ListConversation(ctx, domain.DirectRef(f.alice.ID, f.bob.ID), f.bob.ID, 0)
		assert.NoError(t, err)
		assert.Len(t, msgs, 3)
	})
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()

	send := func(t *testing.T, f *fixture) *domain.Message {
		t.Helper()
		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			Text:        "original",
		}, f.alice.ID)
		require.NoError(t, err)
		return msg
	}

	t.Run("SenderCanEdit", func(t *testing.T) {
		f := newFixture(t)
		msg := send(t, f)

		edited, err := f.svc.EditMessage(ctx, f.alice.ID, msg.ID, "fixed typo")
		require.NoError(t, err)
		assert.True(t, edited.IsEdited)

		resp, err := f.svc.ToResponse(ctx, edited)
		require.NoError(t, err)
		assert.Equal(t, "fixed typo", resp.Text)
	})

	t.Run("OnlySenderMayEdit", func(t *testing.T) {
		f := newFixture(t)
		msg := send(t, f)

		_, err := f.svc.EditMessage(ctx, f.bob.ID, msg.ID, "hijack")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("DeletedMessageNotEditable", func(t *testing.T) {
		f := newFixture(t)
		msg := send(t, f)

		_, err := f.svc.DeleteMessage(ctx, f.alice.ID, msg.ID)
		require.NoError(t, err)

		_, err = f.svc.EditMessage(ctx, f.alice.ID, msg.ID, "too late")
		assert.ErrorIs(t, err, service.ErrMessageDeleted)
		assert.ErrorIs(t, err, domain.ErrInvalidState, "a tombstone edit is the client's fault, not a server error")
	})
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("TombstoneKeepsRow", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID:  &f.bob.ID,
			Text:         "secret",
			CodeSnippets: []domain.CodeSnippet{{Language: "go", Code: "x"}},
		}, f.alice.ID)
		require.NoError(t, err)

		deleted, err := f.svc.DeleteMessage(ctx, f.alice.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
		assert.Empty(t, deleted.CodeSnippets)

		// Repeat delete is a no-op.
		_, err = f.svc.DeleteMessage(ctx, f.alice.ID, msg.ID)
		assert.NoError(t, err)

		msgs, err := f.svc.ListConversation(ctx, domain.DirectRef(f.alice.ID, f.bob.ID), f.bob.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].IsDeleted)
		assert.Empty(t, msgs[0].Text)
	})

	t.Run("OnlySenderMayDelete", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			Text:        "mine",
		}, f.alice.ID)
		require.NoError(t, err)

		_, err = f.svc.DeleteMessage(ctx, f.bob.ID, msg.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestRecipients(t *testing.T) {
	ctx := context.Background()

	t.Run("DirectPair", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			RecipientID: &f.bob.ID,
			Text:        "hi",
		}, f.alice.ID)
		require.NoError(t, err)

		ids, err := f.svc.Recipients(ctx, msg)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []int64{f.alice.ID, f.bob.ID}, ids)
	})

	t.Run("GroupRosterSnapshot", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
			GroupID: &f.group.ID,
			Text:    "hi all",
		}, f.alice.ID)
		require.NoError(t, err)

		ids, err := f.svc.Recipients(ctx, msg)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []int64{f.alice.ID, f.bob.ID}, ids)

		// Carol joins after the send; she shows up for future messages only.
		require.NoError(t, f.store.Groups().AppendMember(ctx, f.group.ID, f.carol.ID, false))
		ids, err = f.svc.Recipients(ctx, msg)
		assert.NoError(t, err)
		assert.Contains(t, ids, f.carol.ID)
	})
}

func TestListConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("OutsiderForbidden", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.ListConversation(ctx, domain.DirectRef(f.alice.ID, f.bob.ID), f.carol.ID, 0)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		_, err = f.svc.ListConversation(ctx, domain.GroupRef(f.group.ID), f.carol.ID, 0)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("HistoryInAcceptanceOrder", func(t *testing.T) {
		f := newFixture(t)

		for _, text := range []string{"one", "two", "three"} {
			_, err := f.svc.CreateMessage(ctx, service.MessageCreateInput{
				RecipientID: &f.bob.ID,
				Text:        text,
			}, f.alice.ID)
			require.NoError(t, err)
		}

		msgs, err := f.svc.ListConversation(ctx, domain.DirectRef(f.bob.ID, f.alice.ID), f.bob.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "one", msgs[0].Text)
		assert.Equal(t, "three", msgs[2].Text)
	})
}
