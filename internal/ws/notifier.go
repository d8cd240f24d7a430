package ws

import "codechat/internal/domain"

// HubNotifier adapts the hub to the call machine's Notifier seam.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) CallIncoming(userIDs []int64, s domain.CallSession) {
	n.hub.BroadcastToUsers(userIDs, callEvent{Type: "call:incoming", Session: s})
}

func (n *HubNotifier) CallState(userIDs []int64, s domain.CallSession, reason string, actorID int64) {
	n.hub.BroadcastToUsers(userIDs, callEvent{
		Type:    "call:state",
		Session: s,
		Reason:  reason,
		ActorID: actorID,
	})
}
