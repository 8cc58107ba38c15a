// ABOUTME: Tests for the OAuth connection flow lifecycle
// ABOUTME: Covers nonce single-use, replay, expiry, and app_auth token minting

package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/openrag/orag-gateway/internal/auth"
)

// fakeConnector records exchange calls and returns canned results.
type fakeConnector struct {
	typ           string
	exchangeCalls int
	exchangeErr   error
	identity      *Identity
	identityErr   error
}

func (c *fakeConnector) Type() string { return c.typ }

func (c *fakeConnector) AuthCodeURL(state, redirectURI string) string {
	return fmt.Sprintf("https://idp.example.com/authorize?state=%s&redirect_uri=%s",
		url.QueryEscape(state), url.QueryEscape(redirectURI))
}

func (c *fakeConnector) Exchange(_ context.Context, code, _ string) (*oauth2.Token, error) {
	c.exchangeCalls++
	if c.exchangeErr != nil {
		return nil, c.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (c *fakeConnector) ResolveIdentity(context.Context, *oauth2.Token) (*Identity, error) {
	if c.identityErr != nil {
		return nil, c.identityErr
	}
	return c.identity, nil
}

// captureSink records stored credentials.
type captureSink struct {
	conns  []*Connection
	tokens []*oauth2.Token
}

func (s *captureSink) StoreCredential(_ context.Context, conn *Connection, tok *oauth2.Token) error {
	s.conns = append(s.conns, conn)
	s.tokens = append(s.tokens, tok)
	return nil
}

func newTestSessions(t *testing.T) *auth.SessionManager {
	t.Helper()
	keys, err := auth.NewHMACKeyMaterial([]byte("flow-test-secret"))
	require.NoError(t, err)
	return auth.NewSessionManager(keys, "https://rag.example.com", "orag", time.Hour, nil)
}

func newTestFlow(t *testing.T, connector Connector, sink CredentialSink, ttl time.Duration) *Flow {
	t.Helper()
	f := New(NewMemoryStore(), newTestSessions(t), sink, ttl, nil)
	f.Register(connector)
	return f
}

func TestFlow_Init(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	res, err := flow.Init(context.Background(), InitRequest{
		ConnectorType:  "acme",
		Purpose:        PurposeDataSource,
		ConnectionName: "wiki",
		RedirectURI:    "https://rag.example.com/auth/callback",
		UserID:         "user-123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ConnectionID)

	parsed, err := url.Parse(res.AuthorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	assert.NotEmpty(t, state, "authorize URL must embed the state nonce")
	assert.GreaterOrEqual(t, len(state), 32, "state nonce must be unguessable")
}

func TestFlow_Init_Errors(t *testing.T) {
	flow := newTestFlow(t, &fakeConnector{typ: "acme"}, nil, 10*time.Minute)

	_, err := flow.Init(context.Background(), InitRequest{
		ConnectorType: "nope",
		Purpose:       PurposeDataSource,
		RedirectURI:   "https://rag.example.com/cb",
	})
	assert.ErrorIs(t, err, ErrUnknownConnector)

	_, err = flow.Init(context.Background(), InitRequest{
		ConnectorType: "acme",
		Purpose:       Purpose("bogus"),
		RedirectURI:   "https://rag.example.com/cb",
	})
	assert.Error(t, err)

	_, err = flow.Init(context.Background(), InitRequest{
		ConnectorType: "acme",
		Purpose:       PurposeDataSource,
	})
	assert.Error(t, err, "missing redirect_uri must fail")
}

// initConnection runs Init and extracts the issued state from the URL.
func initConnection(t *testing.T, flow *Flow, purpose Purpose) (connectionID, state string) {
	t.Helper()
	res, err := flow.Init(context.Background(), InitRequest{
		ConnectorType:  "acme",
		Purpose:        purpose,
		ConnectionName: "conn",
		RedirectURI:    "https://rag.example.com/auth/callback",
	})
	require.NoError(t, err)
	parsed, err := url.Parse(res.AuthorizeURL)
	require.NoError(t, err)
	return res.ConnectionID, parsed.Query().Get("state")
}

func TestFlow_Callback_DataSource(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	sink := &captureSink{}
	flow := newTestFlow(t, connector, sink, 10*time.Minute)

	id, state := initConnection(t, flow, PurposeDataSource)

	res, err := flow.Callback(context.Background(), id, "the-code", state)
	require.NoError(t, err)
	assert.Equal(t, 1, connector.exchangeCalls)
	assert.Empty(t, res.SessionToken, "data_source flow must not mint a session")
	assert.Nil(t, res.User)

	require.Len(t, sink.tokens, 1)
	assert.Equal(t, "access-the-code", sink.tokens[0].AccessToken)
	assert.Equal(t, id, sink.conns[0].ID)
}

func TestFlow_Callback_StateMismatch(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	id, _ := initConnection(t, flow, PurposeDataSource)

	_, err := flow.Callback(context.Background(), id, "the-code", "forged-state")
	assert.ErrorIs(t, err, ErrStateInvalid)
	assert.Equal(t, 0, connector.exchangeCalls, "provider must not be contacted on state mismatch")
}

func TestFlow_Callback_UnknownConnection(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	_, err := flow.Callback(context.Background(), "no-such-id", "code", "state")
	assert.ErrorIs(t, err, ErrStateInvalid)
	assert.Equal(t, 0, connector.exchangeCalls)
}

func TestFlow_Callback_Expired(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	// Negative TTL: the nonce is born expired.
	flow := newTestFlow(t, connector, nil, -time.Second)

	id, state := initConnection(t, flow, PurposeDataSource)

	_, err := flow.Callback(context.Background(), id, "the-code", state)
	assert.ErrorIs(t, err, ErrStateInvalid)
	assert.Equal(t, 0, connector.exchangeCalls, "provider must not be contacted on expired state")
}

func TestFlow_Callback_Replay(t *testing.T) {
	connector := &fakeConnector{typ: "acme"}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	id, state := initConnection(t, flow, PurposeDataSource)

	_, err := flow.Callback(context.Background(), id, "the-code", state)
	require.NoError(t, err)

	_, err = flow.Callback(context.Background(), id, "the-code", state)
	assert.ErrorIs(t, err, ErrStateInvalid, "replay must fail")
	assert.Equal(t, 1, connector.exchangeCalls, "replay must not trigger a second exchange")
}

func TestFlow_Callback_ExchangeFailure(t *testing.T) {
	connector := &fakeConnector{typ: "acme", exchangeErr: errors.New("idp down")}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	id, state := initConnection(t, flow, PurposeDataSource)

	_, err := flow.Callback(context.Background(), id, "the-code", state)
	assert.ErrorIs(t, err, ErrExchangeFailed)
}

func TestFlow_Callback_AppAuth(t *testing.T) {
	connector := &fakeConnector{
		typ: "acme",
		identity: &Identity{
			Subject: "user-789",
			Email:   "cleo@example.com",
			Name:    "Cleo",
		},
	}
	sessions := newTestSessions(t)
	flow := New(NewMemoryStore(), sessions, nil, 10*time.Minute, nil)
	flow.Register(connector)

	id, state := initConnection(t, flow, PurposeAppAuth)

	res, err := flow.Callback(context.Background(), id, "the-code", state)
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, "user-789", res.User.ID)
	require.NotEmpty(t, res.SessionToken)
	assert.Equal(t, "user-789", res.Connection.OwnerUserID)

	// The minted token must round-trip through verification to the same user.
	user, err := sessions.UserFromToken(res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "user-789", user.ID)
	assert.Equal(t, "cleo@example.com", user.Email)
}

func TestFlow_Callback_AppAuth_IdentityUnsupported(t *testing.T) {
	connector := &fakeConnector{typ: "acme", identityErr: ErrIdentityUnsupported}
	flow := newTestFlow(t, connector, nil, 10*time.Minute)

	id, state := initConnection(t, flow, PurposeAppAuth)

	_, err := flow.Callback(context.Background(), id, "the-code", state)
	assert.ErrorIs(t, err, ErrExchangeFailed)
}
