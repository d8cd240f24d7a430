package ws_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codechat/internal/domain"
	"codechat/internal/security"
	"codechat/internal/service"
	"codechat/internal/store/memory"
	"codechat/internal/ws"
)

type routerFixture struct {
	store  *memory.Store
	hub    *ws.Hub
	router *ws.Router
	svc    *service.MessageService
	alice  *domain.User
	bob    *domain.User
	carol  *domain.User
	group  *domain.Group
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	encryptor, err := security.NewEncryptor([]byte("test-key"))
	require.NoError(t, err)

	svc := service.NewMessageService(store.Users(), store.Groups(), store.Messages(), encryptor, 100)
	hub := ws.NewHub(time.Minute, 8)

	f := &routerFixture{
		store:  store,
		hub:    hub,
		router: ws.NewRouter(hub, svc),
		svc:    svc,
	}
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

func (f *routerFixture) connect(t *testing.T, userID int64) *wsPair {
	t.Helper()
	pair := newWSPair(t)
	reg, _ := f.hub.Register(userID, pair.server)
	t.Cleanup(func() { f.hub.Unregister(reg) })
	return pair
}

func directEnvelope(to int64, text string) *ws.Envelope {
	return &ws.Envelope{
		Type:   "message",
		Target: &ws.Target{Kind: "direct", ID: to},
		Text:   text,
	}
}

func TestRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("DirectDeliveryToBothSides", func(t *testing.T) {
		f := newRouterFixture(t)
		aliceConn := f.connect(t, f.alice.ID)
		bobConn := f.connect(t, f.bob.ID)

		resp, err := f.router.Route(ctx, f.alice.ID, directEnvelope(f.bob.ID, "hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Text)

		for _, pair := range []*wsPair{aliceConn, bobConn} {
			payload := pair.readJSON(t)
			assert.Equal(t, "message", payload["type"])
			msg := payload["message"].(map[string]any)
			assert.Equal(t, "hello", msg["text"])
			assert.Equal(t, "alice", msg["sender"].(map[string]any)["username"])
		}
	})

	t.Run("OfflineRecipientStillPersists", func(t *testing.T) {
		f := newRouterFixture(t)

		resp, err := f.router.Route(ctx, f.alice.ID, directEnvelope(f.bob.ID, "catch up later"))
		require.NoError(t, err)
		assert.NotZero(t, resp.ID)

		// Bob finds the message in history once he comes back.
		msgs, err := f.svc.ListConversation(ctx, domain.DirectRef(f.alice.ID, f.bob.ID), f.bob.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "catch up later", msgs[0].Text)
	})

	t.Run("GroupFanOutSkipsOutsiders", func(t *testing.T) {
		f := newRouterFixture(t)
		bobConn := f.connect(t, f.bob.ID)
		carolConn := f.connect(t, f.carol.ID)

		_, err := f.router.Route(ctx, f.alice.ID, &ws.Envelope{
			Type:   "message",
			Target: &ws.Target{Kind: "group", ID: f.group.ID},
			Text:   "standup in 5",
		})
		require.NoError(t, err)

		payload := bobConn.readJSON(t)
		assert.Equal(t, "standup in 5", payload["message"].(map[string]any)["text"])
		carolConn.expectSilence(t, 100*time.Millisecond)
	})

	t.Run("GroupNonMemberRejected", func(t *testing.T) {
		f := newRouterFixture(t)

		_, err := f.router.Route(ctx, f.carol.ID, &ws.Envelope{
			Type:   "message",
			Target: &ws.Target{Kind: "group", ID: f.group.ID},
			Text:   "let me in",
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("BadTargetRejected", func(t *testing.T) {
		f := newRouterFixture(t)

		_, err := f.router.Route(ctx, f.alice.ID, &ws.Envelope{Type: "message", Text: "hi"})
		assert.ErrorIs(t, err, domain.ErrValidation, "missing target")

		_, err = f.router.Route(ctx, f.alice.ID, &ws.Envelope{
			Type:   "message",
			Target: &ws.Target{Kind: "carrier-pigeon", ID: 1},
			Text:   "hi",
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("SnippetOnlyMessage", func(t *testing.T) {
		f := newRouterFixture(t)
		bobConn := f.connect(t, f.bob.ID)

		resp, err := f.router.Route(ctx, f.alice.ID, &ws.Envelope{
			Type:        "message",
			Target:      &ws.Target{Kind: "direct", ID: f.bob.ID},
			CodeSnippet: &domain.CodeSnippet{Language: "go", Code: "fmt.Println(42)"},
		})
		require.NoError(t, err)
		require.Len(t, resp.CodeSnippets, 1)

		payload := bobConn.readJSON(t)
		msg := payload["message"].(map[string]any)
		snippets := msg["code_snippets"].([]any)
		require.Len(t, snippets, 1)
		assert.Equal(t, "go", snippets[0].(map[string]any)["language"])
	})

	t.Run("ConversationOrderIsAcceptanceOrder", func(t *testing.T) {
		f := newRouterFixture(t)
		bobConn := f.connect(t, f.bob.ID)

		texts := []string{"one", "two", "three", "four"}
		for _, text := range texts {
			_, err := f.router.Route(ctx, f.alice.ID, directEnvelope(f.bob.ID, text))
			require.NoError(t, err)
		}

		for _, want := range texts {
			payload := bobConn.readJSON(t)
			assert.Equal(t, want, payload["message"].(map[string]any)["text"])
		}

		msgs, err := f.svc.ListConversation(ctx, domain.DirectRef(f.alice.ID, f.bob.ID), f.bob.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, len(texts))
		for i, want := range texts {
			assert.Equal(t, want, msgs[i].Text)
		}
	})
}

func TestFanout(t *testing.T) {
	ctx := context.Background()

	t.Run("EditReachesConversation", func(t *testing.T) {
		f := newRouterFixture(t)

		resp, err := f.router.Route(ctx, f.alice.ID, directEnvelope(f.bob.ID, "typo"))
		require.NoError(t, err)

		bobConn := f.connect(t, f.bob.ID)

		edited, err := f.svc.EditMessage(ctx, f.alice.ID, resp.ID, "fixed")
		require.NoError(t, err)
		require.NoError(t, f.router.Fanout(ctx, "message:edited", edited))

		payload := bobConn.readJSON(t)
		assert.Equal(t, "message:edited", payload["type"])
		msg := payload["message"].(map[string]any)
		assert.Equal(t, "fixed", msg["text"])
		assert.Equal(t, true, msg["is_edited"])
	})
}
