package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/domain"
)

func newTestController() *Controller {
	return NewController(&config.Config{
		ReadLimit:      32768,
		PingPeriod:     time.Minute,
		InviteLimit:    3,
		InviteInterval: time.Minute,
	})
}

func bind(ctl *Controller, uid domain.UserID) *Conn {
	c := &Conn{send: make(chan []byte, 16)}
	ctl.reg.Bind(uid, c, func() {})
	return c
}

func recv(t *testing.T, c *Conn) domain.Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("expected an envelope")
		return domain.Envelope{}
	}
}

func assertSilent(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected envelope: %s", data)
	default:
	}
}

func TestInviteRoutedToCallee(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	ctl.route("alice", alice, domain.Envelope{
		Kind:     domain.SignalInvite,
		RoomID:   "call_c1_1",
		To:       "bob",
		CallType: domain.CallVideo,
	})

	invite := recv(t, bob)
	assert.Equal(t, domain.SignalInvite, invite.Kind)
	assert.Equal(t, domain.UserID("alice"), invite.From)
	assert.Equal(t, domain.CallVideo, invite.CallType)
	assertSilent(t, alice)
}

func TestInviteToOfflinePeerRejected(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")

	ctl.route("alice", alice, domain.Envelope{
		Kind:   domain.SignalInvite,
		RoomID: "call_c1_1",
		To:     "nobody",
	})

	reject := recv(t, alice)
	assert.Equal(t, domain.SignalRejected, reject.Kind)
	assert.Equal(t, "offline", reject.Reason)
}

func TestInviteRateLimited(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	for i := 0; i < 3; i++ {
		ctl.route("alice", alice, domain.Envelope{
			Kind:   domain.SignalInvite,
			RoomID: domain.RoomID("call_c1_" + string(rune('1'+i))),
			To:     "bob",
		})
		recv(t, bob)
	}

	ctl.route("alice", alice, domain.Envelope{
		Kind:   domain.SignalInvite,
		RoomID: "call_c1_9",
		To:     "bob",
	})
	reject := recv(t, alice)
	assert.Equal(t, domain.SignalRejected, reject.Kind)
	assert.Equal(t, "rate_limited", reject.Reason)
	assertSilent(t, bob)
}

func TestRoomSignalsForwardedToOtherMember(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalInvite, RoomID: "call_c1_1", To: "bob"})
	recv(t, bob)

	ctl.route("bob", bob, domain.Envelope{Kind: domain.SignalRinging, RoomID: "call_c1_1"})
	assert.Equal(t, domain.SignalRinging, recv(t, alice).Kind)

	ctl.route("bob", bob, domain.Envelope{Kind: domain.SignalAccepted, RoomID: "call_c1_1"})
	assert.Equal(t, domain.SignalAccepted, recv(t, alice).Kind)

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalOffer, RoomID: "call_c1_1", SDP: "offer-sdp"})
	offer := recv(t, bob)
	assert.Equal(t, domain.SignalOffer, offer.Kind)
	assert.Equal(t, "offer-sdp", offer.SDP)
}

func TestOutsiderCannotInjectIntoRoom(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")
	mallory := bind(ctl, "mallory")

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalInvite, RoomID: "call_c1_1", To: "bob"})
	recv(t, bob)

	ctl.route("mallory", mallory, domain.Envelope{Kind: domain.SignalOffer, RoomID: "call_c1_1", SDP: "evil"})
	assertSilent(t, alice)
	assertSilent(t, bob)
}

func TestEndedDropsRoom(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalInvite, RoomID: "call_c1_1", To: "bob"})
	recv(t, bob)

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalEnded, RoomID: "call_c1_1", Reason: "cancelled"})
	assert.Equal(t, domain.SignalEnded, recv(t, bob).Kind)

	// room is gone, nothing routes any more
	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalCandidate, RoomID: "call_c1_1"})
	assertSilent(t, bob)
}

func TestDisconnectNotifiesSurvivingMember(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	ctl.route("alice", alice, domain.Envelope{Kind: domain.SignalInvite, RoomID: "call_c1_1", To: "bob"})
	recv(t, bob)
	ctl.route("bob", bob, domain.Envelope{Kind: domain.SignalAccepted, RoomID: "call_c1_1"})
	recv(t, alice)

	ctl.OnDisconnect("bob", bob)

	ended := recv(t, alice)
	assert.Equal(t, domain.SignalEnded, ended.Kind)
	assert.Equal(t, "peer_disconnected", ended.Reason)

	_, ok := ctl.reg.Get("bob")
	assert.False(t, ok)
}

func TestStalePumpTeardownSparesFreshBinding(t *testing.T) {
	ctl := newTestController()
	stale := bind(ctl, "alice")
	bob := bind(ctl, "bob")
	fresh := bind(ctl, "alice")

	ctl.route("alice", fresh, domain.Envelope{Kind: domain.SignalInvite, RoomID: "call_c1_1", To: "bob"})
	recv(t, bob)

	// the replaced connection's pump unwinds last
	ctl.OnDisconnect("alice", stale)

	cur, ok := ctl.reg.Get("alice")
	require.True(t, ok)
	assert.Same(t, fresh, cur)

	ctl.route("bob", bob, domain.Envelope{Kind: domain.SignalRinging, RoomID: "call_c1_1"})
	assert.Equal(t, domain.SignalRinging, recv(t, fresh).Kind)
	assertSilent(t, bob)
}

func TestSweepDropsOnlyStaleUnacceptedRooms(t *testing.T) {
	rs := NewRooms()
	rs.Open("call_old_1", "alice", "bob", domain.CallVoice)
	rs.Open("call_old_2", "carol", "dave", domain.CallVoice)
	rs.MarkAccepted("call_old_2")

	swept := rs.Sweep(0)
	require.Len(t, swept, 1)
	assert.Equal(t, domain.RoomID("call_old_1"), swept[0].ID)

	_, ok := rs.Other("call_old_2", "carol")
	assert.True(t, ok)
}

func TestLimiterRefillsAfterInterval(t *testing.T) {
	rl := NewInviteLimiter(1, 20*time.Millisecond)
	require.True(t, rl.Allow("alice"))
	require.False(t, rl.Allow("alice"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestSenderIdentityOverridesPayload(t *testing.T) {
	ctl := newTestController()
	alice := bind(ctl, "alice")
	bob := bind(ctl, "bob")

	raw, err := json.Marshal(domain.Envelope{
		Kind:   domain.SignalInvite,
		RoomID: "call_c1_1",
		From:   "mallory",
		To:     "bob",
	})
	require.NoError(t, err)
	ctl.handleEnvelope("alice", alice, raw)

	invite := recv(t, bob)
	assert.Equal(t, domain.UserID("alice"), invite.From)
}
