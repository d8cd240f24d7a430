package memory_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codechat/internal/domain"
	"codechat/internal/store/memory"
)

func seedUser(t *testing.T, users domain.UserRepository, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       name,
		HashedPassword: "x",
		Presence:       domain.PresenceOffline,
		IsActive:       true,
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAndFetch", func(t *testing.T) {
		s := memory.New()
		u := seedUser(t, s.Users(), "alice")
		assert.NotZero(t, u.ID)

		got, err := s.Users().GetByUsername(ctx, "alice")
		assert.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = s.Users().GetByID(ctx, 999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := memory.New()
		seedUser(t, s.Users(), "alice")

		err := s.Users().Create(ctx, &domain.User{Username: "alice", HashedPassword: "y"})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("PresenceAndOnlineList", func(t *testing.T) {
		s := memory.New()
		a := seedUser(t, s.Users(), "alice")
		seedUser(t, s.Users(), "bob")

		assert.NoError(t, s.Users().SetPresence(ctx, a.ID, domain.PresenceOnline))

		online, err := s.Users().ListOnline(ctx)
		assert.NoError(t, err)
		require.Len(t, online, 1)
		assert.Equal(t, "alice", online[0].Username)

		assert.ErrorIs(t, s.Users().SetPresence(ctx, 999, domain.PresenceAway), domain.ErrNotFound)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := memory.New()
		u := seedUser(t, s.Users(), "alice")

		got, _ := s.Users().GetByID(ctx, u.ID)
		got.Username = "mallory"

		again, _ := s.Users().GetByID(ctx, u.ID)
		assert.Equal(t, "alice", again.Username)
	})
}

func TestGroupRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatorBecomesAdmin", func(t *testing.T) {
		s := memory.New()
		owner := seedUser(t, s.Users(), "alice")

		g := &domain.Group{Name: "backend"}
		require.NoError(t, s.Groups().Create(ctx, g, owner.ID))
		assert.NotZero(t, g.ID)

		members, err := s.Groups().ListMembers(ctx, g.ID)
		assert.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, owner.ID, members[0].UserID)
		assert.True(t, members[0].IsAdmin)
	})

	t.Run("MembershipLifecycle", func(t *testing.T) {
		s := memory.New()
		owner := seedUser(t, s.Users(), "alice")
		bob := seedUser(t, s.Users(), "bob")

		g := &domain.Group{Name: "backend"}
		require.NoError(t, s.Groups().Create(ctx, g, owner.ID))

		assert.NoError(t, s.Groups().AppendMember(ctx, g.ID, bob.ID, false))
		assert.ErrorIs(t, s.Groups().AppendMember(ctx, g.ID, bob.ID, false), domain.ErrConflict)

		ok, err := s.Groups().IsMember(ctx, g.ID, bob.ID)
		assert.NoError(t, err)
		assert.True(t, ok)

		mine, err := s.Groups().ListForUser(ctx, bob.ID)
		assert.NoError(t, err)
		assert.Len(t, mine, 1)

		assert.NoError(t, s.Groups().RemoveMember(ctx, g.ID, bob.ID))
		ok, _ = s.Groups().IsMember(ctx, g.ID, bob.ID)
		assert.False(t, ok)

		assert.ErrorIs(t, s.Groups().RemoveMember(ctx, g.ID, bob.ID), domain.ErrNotFound)
	})
}

func TestMessageRepo(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memory.Store, *domain.User, *domain.User) {
		s := memory.New()
		return s, seedUser(t, s.Users(), "alice"), seedUser(t, s.Users(), "bob")
	}

	t.Run("TargetExclusivity", func(t *testing.T) {
		s, alice, bob := setup(t)
		groupID := int64(1)

		err := s.Messages().Create(ctx, &domain.Message{SenderID: alice.ID, Text: "hi"})
		assert.ErrorIs(t, err, domain.ErrValidation, "neither target set")

		err = s.Messages().Create(ctx, &domain.Message{
			SenderID: alice.ID, RecipientID: &bob.ID, GroupID: &groupID, Text: "hi",
		})
		assert.ErrorIs(t, err, domain.ErrValidation, "both targets set")
	})

	t.Run("UnknownTargetsRejected", func(t *testing.T) {
		s, alice, _ := setup(t)
		missing := int64(999)

		err := s.Messages().Create(ctx, &domain.Message{SenderID: alice.ID, RecipientID: &missing, Text: "hi"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.Messages().Create(ctx, &domain.Message{SenderID: alice.ID, GroupID: &missing, Text: "hi"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ConversationOrdering", func(t *testing.T) {
		s, alice, bob := setup(t)
		ref := domain.DirectRef(alice.ID, bob.ID)

		for i := 0; i < 10; i++ {
			m := &domain.Message{SenderID: alice.ID, RecipientID: &bob.ID, Text: fmt.Sprintf("m%d", i)}
			require.NoError(t, s.Messages().Create(ctx, m))
		}

		msgs, err := s.Messages().ListConversation(ctx, ref, 0)
		assert.NoError(t, err)
		require.Len(t, msgs, 10)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
				"timestamps never run backwards within a conversation")
		}
	})

	t.Run("DirectRefIsSymmetric", func(t *testing.T) {
		s, alice, bob := setup(t)

		require.NoError(t, s.Messages().Create(ctx, &domain.Message{SenderID: alice.ID, RecipientID: &bob.ID, Text: "a"}))
		require.NoError(t, s.Messages().Create(ctx, &domain.Message{SenderID: bob.ID, RecipientID: &alice.ID, Text: "b"}))

		fromAlice, _ := s.Messages().ListConversation(ctx, domain.DirectRef(alice.ID, bob.ID), 0)
		fromBob, _ := s.Messages().ListConversation(ctx, domain.DirectRef(bob.ID, alice.ID), 0)
		assert.Len(t, fromAlice, 2)
		assert.Len(t, fromBob, 2)
	})

	t.Run("LimitReturnsNewestChronological", func(t *testing.T) {
		s, alice, bob := setup(t)

		for i := 0; i < 5; i++ {
			require.NoError(t, s.Messages().Create(ctx, &domain.Message{
				SenderID: alice.ID, RecipientID: &bob.ID, Text: fmt.Sprintf("m%d", i),
			}))
		}

		msgs, err := s.Messages().ListConversation(ctx, domain.DirectRef(alice.ID, bob.ID), 2)
		assert.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m3", msgs[0].Text)
		assert.Equal(t, "m4", msgs[1].Text)
	})

	t.Run("PruneDropsOldest", func(t *testing.T) {
		s, alice, bob := setup(t)
		ref := domain.DirectRef(alice.ID, bob.ID)

		var firstID int64
		for i := 0; i < 6; i++ {
			m := &domain.Message{SenderID: alice.ID, RecipientID: &bob.ID, Text: fmt.Sprintf("m%d", i)}
			require.NoError(t, s.Messages().Create(ctx, m))
			if i == 0 {
				firstID = m.ID
			}
		}

		assert.NoError(t, s.Messages().PruneConversation(ctx, ref, 4))

		msgs, _ := s.Messages().ListConversation(ctx, ref, 0)
		require.Len(t, msgs, 4)
		assert.Equal(t, "m2", msgs[0].Text)

		_, err := s.Messages().GetByID(ctx, firstID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UpdatePersists", func(t *testing.T) {
		s, alice, bob := setup(t)

		m := &domain.Message{SenderID: alice.ID, RecipientID: &bob.ID, Text: "hi"}
		require.NoError(t, s.Messages().Create(ctx, m))

		m.Text = "edited"
		m.IsEdited = true
		require.NoError(t, s.Messages().Update(ctx, m))

		got, err := s.Messages().GetByID(ctx, m.ID)
		assert.NoError(t, err)
		assert.Equal(t, "edited", got.Text)
		assert.True(t, got.IsEdited)

		assert.ErrorIs(t, s.Messages().Update(ctx, &domain.Message{ID: 999}), domain.ErrNotFound)
	})
}
