package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"codechat/internal/call"
	"codechat/internal/domain"
	"codechat/internal/security"
	"codechat/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the HTTP handler for the /ws endpoint. It resolves
// the bearer token (Authorization header or Sec-WebSocket-Protocol) to a
// user, registers the connection, then dispatches envelopes:
//   - message                      -> route: persist + fan out
//   - message:edit / message:delete -> mutate + broadcast to the conversation
//   - typing                       -> forward to the other members
//   - presence                     -> set and broadcast status
//   - call:initiate/accept/reject/end/toggleAudio/toggleVideo/toggleScreen
//     -> call state machine transitions
func MakeHandler(
	hub *Hub,
	router *Router,
	machine *call.Machine,
	tokens *security.TokenService,
	users *service.UserService,
	msgs *service.MessageService,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.Subject(claims)
		if err != nil {
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.Get(ctx, userID)
		if err != nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		reg, first := hub.Register(user.ID, conn)
		if first {
			if err := users.SetPresence(ctx, user.ID, domain.PresenceOnline); err != nil {
				log.Printf("ws: set online for %d: %v", user.ID, err)
			}
			hub.BroadcastAll(presenceEvent{Type: "presence", UserID: user.ID, Status: domain.PresenceOnline})
		}
		defer func() {
			if last := hub.Unregister(reg); last {
				// without a transport the user cannot stay in a call;
				// presence goes offline later, after the grace window
				machine.LeaveAll(user.ID)
			}
		}()

		for {
			env := &Envelope{}
			if err := conn.ReadJSON(env); err != nil {
				break
			}

			switch env.Type {

			case "message":
				if _, err := router.Route(ctx, user.ID, env); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "message:edit":
				msg, err := msgs.EditMessage(ctx, user.ID, env.MessageID, env.Text)
				if err != nil {
					sendError(hub, user.ID, reg, err)
					continue
				}
				if err := router.Fanout(ctx, "message:edited", msg); err != nil {
					log.Printf("ws: fan out edit of %d: %v", msg.ID, err)
				}

			case "message:delete":
				msg, err := msgs.DeleteMessage(ctx, user.ID, env.MessageID)
				if err != nil {
					sendError(hub, user.ID, reg, err)
					continue
				}
				if err := router.Fanout(ctx, "message:deleted", msg); err != nil {
					log.Printf("ws: fan out delete of %d: %v", msg.ID, err)
				}

			case "typing":
				ref, err := env.Ref(user.ID)
				if err != nil {
					sendError(hub, user.ID, reg, err)
					continue
				}
				ok, err := msgs.CanRead(ctx, ref, user.ID)
				if err != nil || !ok {
					sendError(hub, user.ID, reg, domain.ErrForbidden)
					continue
				}
				others, err := typingAudience(ctx, msgs, ref, user.ID)
				if err != nil {
					log.Printf("ws: typing audience: %v", err)
					continue
				}
				hub.BroadcastToUsers(others, typingEvent{Type: "typing", Target: env.Target, User: user.Profile()})

			case "presence":
				if err := users.SetPresence(ctx, user.ID, env.Status); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						log.Printf("ws: presence for unknown user %d", user.ID)
					}
					sendError(hub, user.ID, reg, err)
					continue
				}
				hub.BroadcastAll(presenceEvent{Type: "presence", UserID: user.ID, Status: env.Status})

			case "call:initiate":
				if _, err := machine.Initiate(user.ID, env.Recipients, env.CallType); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:accept":
				if _, err := machine.Accept(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:reject":
				if err := machine.Reject(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:end":
				if err := machine.End(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:toggleAudio":
				if _, err := machine.ToggleAudio(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:toggleVideo":
				if _, err := machine.ToggleVideo(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			case "call:toggleScreen":
				if _, err := machine.ToggleScreenShare(env.SessionID, user.ID); err != nil {
					sendError(hub, user.ID, reg, err)
				}

			default:
				log.Printf("ws: unknown event type %q from user %d", env.Type, user.ID)
				sendError(hub, user.ID, reg, fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, env.Type))
			}
		}
	}
}

// typingAudience resolves the conversation members except the typist.
func typingAudience(ctx context.Context, msgs *service.MessageService, ref domain.ConversationRef, typist int64) ([]int64, error) {
	var all []int64
	if ref.IsGroup() {
		gid := ref.GroupID
		probe := &domain.Message{SenderID: typist, GroupID: &gid}
		ids, err := msgs.Recipients(ctx, probe)
		if err != nil {
			return nil, err
		}
		all = ids
	} else {
		all = []int64{ref.UserA, ref.UserB}
	}
	others := all[:0]
	for _, id := range all {
		if id != typist {
			others = append(others, id)
		}
	}
	return others, nil
}

// sendError reports a failure back to the originating client only.
func sendError(hub *Hub, userID int64, reg *Registration, err error) {
	ev := errorEvent{Type: "error", Code: errorCode(err), Message: err.Error()}
	select {
	case reg.c.send <- ev:
	case <-reg.c.done:
	default:
		log.Printf("ws: error event dropped for user %d: %v", userID, err)
	}
}
