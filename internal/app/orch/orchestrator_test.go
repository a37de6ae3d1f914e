package orch

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/soundmesh/internal/app"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/core/coretest"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testSecret = "s3cret"

type OrchestratorSuite struct {
	suite.Suite
	orch  *Orchestrator
	media *coretest.MediaFactory
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.media = coretest.NewMediaFactory()
	channels := app.NewChannelDirectory(
		domain.Channel{ID: "general", Name: "General Chat"},
		domain.Channel{ID: "production", Name: "Production Crew"},
		domain.Channel{ID: "stage", Name: "Stage Monitors"},
	)
	cfg := Config{Secret: testSecret, RenegotiateWorkers: 2}
	o, err := New(context.Background(), cfg, channels, nil, s.media)
	s.Require().NoError(err)
	s.orch = o
}

func (s *OrchestratorSuite) TearDownTest() {
	s.orch.Close()
}

// client is a connected session together with its captured signaling.
type client struct {
	sess *core.Session
	sig  *coretest.Signal
}

func (c client) media() *coretest.Media {
	if c.sess.Media() == nil {
		return nil
	}
	return c.sess.Media().(*coretest.Media)
}

func (s *OrchestratorSuite) connect(id string) client {
	sig := coretest.NewSignal()
	sess, err := s.orch.Connect(id, sig, "127.0.0.1:1000")
	s.Require().NoError(err)
	return client{sess: sess, sig: sig}
}

func (s *OrchestratorSuite) login(id string) client {
	c := s.connect(id)
	s.Require().NoError(s.orch.Authenticate(c.sess, testSecret, ""))
	return c
}

func (s *OrchestratorSuite) offer(c client) {
	s.Require().NoError(s.orch.HandleOffer(c.sess, "v=0"))
}

func (s *OrchestratorSuite) publish(c client) *coretest.Track {
	tr := coretest.NewTrack(string(c.sess.ID) + "-audio")
	s.Require().True(s.orch.trackArrived(c.sess, c.sess.Media(), tr))
	return tr
}

func (s *OrchestratorSuite) eventuallyOffers(c client, n int) {
	s.Eventually(func() bool { return len(c.sig.OfType(TypeOffer)) == n }, time.Second, 5*time.Millisecond)
}

func (s *OrchestratorSuite) TestAuthorizeNotifiesPeers() {
	a := s.login("a")
	b := s.login("bob")

	statuses := b.sig.OfType(TypeStatusUpdate)
	s.Require().Len(statuses, 1)
	s.Equal("authorized", statuses[0]["status"])
	s.Equal("bob", statuses[0]["client_id"])
	peers := statuses[0]["current_clients"].([]any)
	s.Require().Len(peers, 1)
	s.Equal("a", peers[0].(map[string]any)["id"])

	updates := a.sig.OfType(TypeClientUpdate)
	s.Require().Len(updates, 1)
	pub := updates[0]["payload"].(map[string]any)["client"].(map[string]any)
	s.Equal("bob", pub["id"])
	s.Equal("User_bob", pub["name"])
}

func (s *OrchestratorSuite) TestTrackRoutedToListenerAndRenegotiated() {
	s2 := s.login("s2")
	s.Require().NoError(s.orch.JoinChannel(s2.sess, "general"))
	s.offer(s2)

	s1 := s.login("s1")
	s.Require().NoError(s.orch.JoinChannel(s1.sess, "general"))
	s.offer(s1)
	t1 := s.publish(s1)

	s.Equal([]core.Track{t1}, s2.media().Senders())
	s.eventuallyOffers(s2, 1)
	s.Empty(s1.media().Senders())
}

func (s *OrchestratorSuite) TestBackfillOnFirstOffer() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "general"))
	s.offer(a)
	ta := s.publish(a)

	b := s.login("b")
	s.Require().NoError(s.orch.JoinChannel(b.sess, "general"))
	s.offer(b)

	s.Require().Len(b.sig.OfType(TypeAnswer), 1)
	s.Equal([]core.Track{ta}, b.media().Senders())
	s.eventuallyOffers(b, 1)
}

func (s *OrchestratorSuite) TestUpdateListenChannelsIsIdempotent() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "stage"))
	s.offer(a)
	s.publish(a)

	b := s.login("b")
	s.offer(b)
	applied, err := s.orch.UpdateListenChannels(b.sess, []domain.ChannelID{"stage", "nowhere", "stage"})
	s.Require().NoError(err)
	s.Equal([]domain.ChannelID{"stage"}, applied)
	s.Len(b.media().Senders(), 1)
	s.eventuallyOffers(b, 1)

	_, err = s.orch.UpdateListenChannels(b.sess, []domain.ChannelID{"stage"})
	s.Require().NoError(err)
	time.Sleep(50 * time.Millisecond)
	s.Len(b.sig.OfType(TypeOffer), 1)
	s.Len(b.media().Senders(), 1)
}

func (s *OrchestratorSuite) TestChannelSwitch() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "general"))
	s.offer(a)
	ta := s.publish(a)

	onlyGeneral := s.login("g")
	s.Require().NoError(s.orch.JoinChannel(onlyGeneral.sess, "general"))
	s.offer(onlyGeneral)
	both := s.login("both")
	s.offer(both)
	_, err := s.orch.UpdateListenChannels(both.sess, []domain.ChannelID{"general", "stage"})
	s.Require().NoError(err)
	onlyStage := s.login("st")
	s.Require().NoError(s.orch.JoinChannel(onlyStage.sess, "stage"))
	s.offer(onlyStage)

	s.Require().Equal([]core.Track{ta}, onlyGeneral.media().Senders())
	s.Require().Equal([]core.Track{ta}, both.media().Senders())
	s.Require().Empty(onlyStage.media().Senders())

	s.Require().NoError(s.orch.JoinChannel(a.sess, "stage"))

	s.Empty(onlyGeneral.media().Senders())
	s.Equal([]core.Track{ta}, both.media().Senders())
	s.Equal([]core.Track{ta}, onlyStage.media().Senders())
	s.Equal(domain.ChannelID("stage"), a.sess.CurrentChannel)
	s.True(a.sess.Listens("general"))
	s.True(a.sess.Listens("stage"))

	joined := a.sig.OfType(TypeChannelJoined)
	s.Require().Len(joined, 2)
	s.Equal("stage", joined[1]["channel_id"])
}

func (s *OrchestratorSuite) TestDisconnectPropagation() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "general"))
	s.offer(a)
	ta := s.publish(a)
	b := s.login("b")
	s.Require().NoError(s.orch.JoinChannel(b.sess, "general"))
	s.offer(b)
	c := s.login("c")
	pending := s.connect("p")
	s.Require().Contains(b.media().Senders(), core.Track(ta))
	aMedia := a.media()

	s.orch.Cleanup(a.sess, ReasonClosed)
	s.orch.Cleanup(a.sess, ReasonClosed)

	s.NotContains(b.media().Senders(), core.Track(ta))
	for _, peer := range []client{b, c} {
		msgs := peer.sig.OfType(TypeClientDisconnect)
		s.Require().Len(msgs, 1)
		s.Equal("a", msgs[0]["payload"].(map[string]any)["client_id"])
	}
	s.Empty(pending.sig.OfType(TypeClientDisconnect))

	s.Equal(domain.StatusDisconnected, a.sess.Status)
	s.Nil(a.sess.Signal())
	s.Nil(a.sess.Media())
	s.Nil(a.sess.Inbound)
	s.False(a.sig.IsOpen())
	s.True(aMedia.IsClosed())
	_, ok := s.orch.Lookup("a")
	s.False(ok)
}

func (s *OrchestratorSuite) TestTrackEndRemovesEverywhere() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "general"))
	s.offer(a)
	ta := s.publish(a)
	b := s.login("b")
	s.Require().NoError(s.orch.JoinChannel(b.sess, "general"))
	s.offer(b)
	s.Require().Len(b.media().Senders(), 1)

	ta.End()

	s.Eventually(func() bool { return len(b.media().Senders()) == 0 }, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		s.orch.mu.Lock()
		defer s.orch.mu.Unlock()
		return a.sess.Inbound == nil
	}, time.Second, 5*time.Millisecond)
}

func (s *OrchestratorSuite) TestDuplicateConnectionGetsNewID() {
	a := s.login("a")

	sig := coretest.NewSignal()
	dup, err := s.orch.Connect("a", sig, "127.0.0.1:2000")
	s.Require().NoError(err)

	s.NotEqual(core.SessionID("a"), dup.ID)
	s.Regexp(`^a_[0-9a-f]{8}$`, string(dup.ID))
	changed := sig.OfType(TypeClientIDChanged)
	s.Require().Len(changed, 1)
	s.Equal("a", changed[0]["original_id"])
	s.Equal(string(dup.ID), changed[0]["new_id"])

	live, ok := s.orch.Lookup("a")
	s.Require().True(ok)
	s.Same(a.sess, live)
	s.True(a.sig.IsOpen())
}

func (s *OrchestratorSuite) TestReconnectReplacesStaleSession() {
	old := s.connect("a")

	fresh := s.connect("a")

	s.Equal(core.SessionID("a"), fresh.sess.ID)
	s.False(old.sig.IsOpen())
	s.Equal(domain.StatusDisconnected, old.sess.Status)
	got, ok := s.orch.Lookup("a")
	s.Require().True(ok)
	s.Same(fresh.sess, got)

	// The stale handler's deferred cleanup must not evict the new session.
	s.orch.Cleanup(old.sess, ReasonClosed)
	got, ok = s.orch.Lookup("a")
	s.Require().True(ok)
	s.Same(fresh.sess, got)
}

func (s *OrchestratorSuite) TestWrongSecretRejects() {
	peer := s.login("peer")
	c := s.connect("a")

	err := s.orch.Authenticate(c.sess, "nope", "")

	s.ErrorIs(err, ErrWrongSecret)
	s.Equal(domain.StatusRejected, c.sess.Status)
	s.False(c.sig.IsOpen())
	s.Equal(ClosePolicyViolation, c.sig.CloseCode)
	_, ok := s.orch.Lookup("a")
	s.False(ok)
	statuses := c.sig.OfType(TypeStatusUpdate)
	s.Require().Len(statuses, 1)
	s.Equal("rejected", statuses[0]["status"])
	s.Empty(peer.sig.OfType(TypeClientUpdate))

	s.orch.Cleanup(c.sess, ReasonClosed)
	s.Len(peer.sig.OfType(TypeClientDisconnect), 1)
}

func (s *OrchestratorSuite) TestInvalidNameKeepsPending() {
	c := s.connect("a")
	long := make([]byte, domain.MaxClientNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	err := s.orch.Authenticate(c.sess, testSecret, string(long))
	s.ErrorIs(err, ErrInvalidName)
	s.Equal(domain.StatusPending, c.sess.Status)
}

func (s *OrchestratorSuite) TestMessagesRequireAuthorization() {
	c := s.connect("a")
	s.ErrorIs(s.orch.HandleOffer(c.sess, "v=0"), ErrNotAuthorized)
	s.ErrorIs(s.orch.JoinChannel(c.sess, "general"), ErrNotAuthorized)
	_, err := s.orch.UpdateListenChannels(c.sess, nil)
	s.ErrorIs(err, ErrNotAuthorized)
	s.Equal(0, s.media.Count("a"))
}

func (s *OrchestratorSuite) TestAnswerAndCandidate() {
	a := s.login("a")
	s.ErrorIs(s.orch.HandleAnswer(a.sess, "v=0"), ErrNoMediaConnection)
	s.ErrorIs(s.orch.HandleCandidate(a.sess, nil), ErrNoMediaConnection)

	s.offer(a)
	s.Require().NoError(s.orch.HandleAnswer(a.sess, "v=0"))
	status := a.sig.OfType(TypeConnectionStatus)
	s.Require().Len(status, 1)
	s.Equal("connected", status[0]["status"])

	s.Require().NoError(s.orch.HandleCandidate(a.sess, nil))
	s.Len(a.media().Candidates(), 1)
}

func (s *OrchestratorSuite) TestFailedConnectionIsReplacedOnNextOffer() {
	a := s.login("a")
	s.offer(a)
	first := a.media()
	first.EmitState(webrtcFailed)
	s.Require().Len(a.sig.OfType(TypeConnectionStatus), 1)
	s.Require().NoError(first.Close())

	s.offer(a)

	s.Equal(2, s.media.Count("a"))
	s.NotSame(first, a.media())
}

func (s *OrchestratorSuite) TestServerCandidatesAreTrickled() {
	a := s.login("a")
	s.offer(a)
	a.media().EmitCandidate(candidateInit("candidate:1 1 udp 1 10.0.0.1 5000 typ host"))

	msgs := a.sig.OfType(TypeCandidate)
	s.Require().Len(msgs, 1)
	s.Equal("candidate:1 1 udp 1 10.0.0.1 5000 typ host", msgs[0]["candidate"].(map[string]any)["candidate"])
}

func TestApprovalMode(t *testing.T) {
	channels := app.NewChannelDirectory()
	o, err := New(context.Background(), Config{Secret: testSecret, RequireApproval: true, RenegotiateWorkers: 1}, channels, nil, coretest.NewMediaFactory())
	require.NoError(t, err)
	defer o.Close()

	sig := coretest.NewSignal()
	sess, err := o.Connect("a", sig, "")
	require.NoError(t, err)
	require.NoError(t, o.Authenticate(sess, testSecret, "Alice"))
	assert.Equal(t, domain.StatusPending, sess.Status)
	assert.Equal(t, "Alice", sess.Name)

	pub, err := o.Authorize("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, pub.Status)
	statuses := sig.OfType(TypeStatusUpdate)
	require.Len(t, statuses, 2)
	assert.Equal(t, "authorized", statuses[1]["status"])

	_, err = o.Authorize("a")
	assert.ErrorIs(t, err, ErrNotPending)
	_, err = o.Authorize("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAdminReject(t *testing.T) {
	o, err := New(context.Background(), Config{Secret: testSecret, RequireApproval: true}, app.NewChannelDirectory(), nil, coretest.NewMediaFactory())
	require.NoError(t, err)
	defer o.Close()

	sig := coretest.NewSignal()
	sess, err := o.Connect("a", sig, "")
	require.NoError(t, err)
	require.NoError(t, o.Authenticate(sess, testSecret, ""))

	require.NoError(t, o.Reject("a"))
	assert.Equal(t, domain.StatusRejected, sess.Status)
	assert.Equal(t, ClosePolicyViolation, sig.CloseCode)
	_, ok := o.Lookup("a")
	assert.False(t, ok)
	assert.ErrorIs(t, o.Reject("a"), ErrSessionNotFound)
}

func TestApprovalRequiresHandshake(t *testing.T) {
	o, err := New(context.Background(), Config{Secret: testSecret, RequireApproval: true}, app.NewChannelDirectory(), nil, coretest.NewMediaFactory())
	require.NoError(t, err)
	defer o.Close()

	sig := coretest.NewSignal()
	sess, err := o.Connect("a", sig, "")
	require.NoError(t, err)

	_, err = o.Authorize("a")
	assert.ErrorIs(t, err, ErrNotPending)
	assert.ErrorIs(t, o.Reject("a"), ErrNotPending)
	assert.Equal(t, domain.StatusPending, sess.Status)
	assert.True(t, sig.IsOpen())

	require.NoError(t, o.Authenticate(sess, testSecret, ""))
	assert.Equal(t, "User_a", sess.Name)

	pub, err := o.Authorize("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, pub.Status)
	assert.Equal(t, "User_a", pub.Name)
}

func (s *OrchestratorSuite) TestSweepRepairsDrift() {
	a := s.login("a")
	s.Require().NoError(s.orch.JoinChannel(a.sess, "general"))
	s.offer(a)
	s.publish(a)

	b := s.login("b")
	s.Require().NoError(s.orch.JoinChannel(b.sess, "general"))
	s.offer(b)
	s.Require().Len(b.media().Senders(), 1)
	s.eventuallyOffers(b, 1)

	s.Equal(0, s.orch.Sweep())

	// listen set changed behind the router's back
	b.sess.SetListening(nil)
	s.Equal(1, s.orch.Sweep())
	s.Empty(b.media().Senders())
	s.eventuallyOffers(b, 2)
	s.Equal(0, s.orch.Sweep())
}

func TestPeriodicSweep(t *testing.T) {
	channels := app.NewChannelDirectory(domain.Channel{ID: "general", Name: "General Chat"})
	o, err := New(context.Background(), Config{Secret: testSecret, SweepInterval: 10 * time.Millisecond}, channels, nil, coretest.NewMediaFactory())
	require.NoError(t, err)
	defer o.Close()

	join := func(id string) *core.Session {
		sess, err := o.Connect(id, coretest.NewSignal(), "")
		require.NoError(t, err)
		require.NoError(t, o.Authenticate(sess, testSecret, ""))
		require.NoError(t, o.JoinChannel(sess, "general"))
		require.NoError(t, o.HandleOffer(sess, "v=0"))
		return sess
	}
	a := join("a")
	require.True(t, o.trackArrived(a, a.Media(), coretest.NewTrack("a-audio")))
	b := join("b")
	require.Len(t, b.Media().Senders(), 1)

	o.mu.Lock()
	b.SetListening(nil)
	o.mu.Unlock()

	assert.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(b.Media().Senders()) == 0
	}, time.Second, 10*time.Millisecond)
}
