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
)

func (s *OrchestratorSuite) TestListClientsSorted() {
	s.login("b")
	s.connect("a")

	got := s.orch.ListClients()
	s.Require().Len(got, 2)
	s.Equal(domain.ClientID("a"), got[0].ID)
	s.Equal(domain.StatusPending, got[0].Status)
	s.Equal(domain.StatusAuthorized, got[1].Status)

	_, err := s.orch.Client("missing")
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *OrchestratorSuite) TestSetPermissionsNotifiesClient() {
	a := s.login("a")
	perms := domain.NewPermissions()
	perms.Channels["stage"] = domain.ChannelPermissions{Talk: true, Listen: true}

	got, err := s.orch.SetPermissions("a", perms)
	s.Require().NoError(err)
	s.True(got.For("stage").Talk)

	msgs := a.sig.OfType(TypePermissionsUpdate)
	s.Require().Len(msgs, 1)
	chans := msgs[0]["permissions"].(map[string]any)["channel_permissions"].(map[string]any)
	s.Equal(true, chans["stage"].(map[string]any)["talk"])

	perms.Channels["stage"] = domain.ChannelPermissions{}
	s.True(a.sess.Permissions.For("stage").Talk, "stored permissions are a copy")

	_, err = s.orch.SetPermissions("missing", perms)
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *OrchestratorSuite) TestDisconnectByAdmin() {
	a := s.login("a")
	b := s.login("b")

	s.Require().NoError(s.orch.Disconnect("a"))

	s.Equal(ClosePolicyViolation, a.sig.CloseCode)
	s.Len(b.sig.OfType(TypeClientDisconnect), 1)
	s.ErrorIs(s.orch.Disconnect("a"), ErrSessionNotFound)
}

func (s *OrchestratorSuite) TestChannelMutationsBroadcast() {
	a := s.login("a")
	pending := s.connect("p")

	ch, err := s.orch.CreateChannel(domain.Channel{Name: "Backstage"})
	s.Require().NoError(err)
	s.NotEmpty(ch.ID)

	name := "Back Stage"
	_, err = s.orch.UpdateChannel(ch.ID, &name, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.orch.DeleteChannel(ch.ID))
	s.ErrorIs(s.orch.DeleteChannel(ch.ID), app.ErrChannelNotFound)

	updates := a.sig.OfType(TypeChannelListUpdate)
	s.Require().Len(updates, 3)
	s.Len(updates[0]["channels"].([]any), 4)
	s.Len(updates[2]["channels"].([]any), 3)
	s.Empty(pending.sig.OfType(TypeChannelListUpdate))
}

func TestTalkEnforcement(t *testing.T) {
	channels := app.NewChannelDirectory(domain.Channel{ID: "general", Name: "General Chat"})
	o, err := New(context.Background(), Config{Secret: testSecret, RenegotiateWorkers: 1}, channels, app.TalkPermissionPolicy{}, coretest.NewMediaFactory())
	require.NoError(t, err)
	defer o.Close()

	join := func(id string) (*core.Session, *coretest.Signal) {
		sig := coretest.NewSignal()
		sess, err := o.Connect(id, sig, "")
		require.NoError(t, err)
		require.NoError(t, o.Authenticate(sess, testSecret, ""))
		require.NoError(t, o.JoinChannel(sess, "general"))
		require.NoError(t, o.HandleOffer(sess, "v=0"))
		return sess, sig
	}
	a, _ := join("a")
	ta := coretest.NewTrack("a-audio")
	require.True(t, o.trackArrived(a, a.Media(), ta))
	b, bSig := join("b")
	assert.Empty(t, b.Media().Senders())

	perms := domain.NewPermissions()
	perms.Channels["general"] = domain.ChannelPermissions{Talk: true, Listen: true}
	_, err = o.SetPermissions("a", perms)
	require.NoError(t, err)

	assert.Equal(t, []core.Track{ta}, b.Media().Senders())
	assert.Eventually(t, func() bool { return len(bSig.OfType(TypeOffer)) == 1 }, time.Second, 5*time.Millisecond)
}
