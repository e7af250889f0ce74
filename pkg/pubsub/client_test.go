package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/accountable/accountable-backend/pkg/config"
)

const testProject = "accountable-test"

func testConfig() config.PubSubConfig {
	return config.PubSubConfig{
		DomainTopic:              "domain",
		NotificationSubscription: "notifications",
		AnalyticsSubscription:    "analytics",
		RealtimeSubscription:     "realtime",
	}
}

// newFakeClient wires a client to an in-process Pub/Sub server. Only the
// resources named in create are provisioned.
func newFakeClient(t *testing.T, cfg config.PubSubConfig, create bool) (*Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	if create {
		topic := "projects/" + testProject + "/topics/" + cfg.DomainTopic
		_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
		require.NoError(t, err)
		for _, name := range subscriptionNames(cfg) {
			_, err := srv.GServer.CreateSubscription(ctx, &pubsubpb.Subscription{
				Name:  "projects/" + testProject + "/subscriptions/" + name,
				Topic: topic,
			})
			require.NoError(t, err)
		}
	}

	c, err := newClient(ctx, testProject, cfg,
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{
		NotificationSubscription: " notifications ",
		AnalyticsSubscription:    "",
		RealtimeSubscription:     "realtime",
	})
	require.Equal(t, []string{"notifications", "realtime"}, names)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	require.Nil(t, c.Publisher("domain"))
	require.Nil(t, c.DomainPublisher())
	require.Nil(t, c.Subscription("notifications"))
	require.Empty(t, c.topicResourceName("domain"))
	require.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	require.NoError(t, c.Close())
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := newClient(context.Background(), "  ", testConfig())
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestPingFindsProvisionedResources(t *testing.T) {
	c, _ := newFakeClient(t, testConfig(), true)
	require.NoError(t, c.Ping(context.Background()))
}

func TestPingReportsMissingTopic(t *testing.T) {
	c, _ := newFakeClient(t, testConfig(), false)
	err := c.Ping(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), `topic "domain" does not exist`)
}

func TestPingRequiresSubscriptions(t *testing.T) {
	cfg := config.PubSubConfig{DomainTopic: "domain"}
	c, _ := newFakeClient(t, cfg, true)
	require.ErrorIs(t, c.Ping(context.Background()), errNoSubscriptions)
}

func TestPublisherIsCachedPerTopic(t *testing.T) {
	c, _ := newFakeClient(t, testConfig(), true)

	first := c.DomainPublisher()
	require.NotNil(t, first)
	require.Same(t, first, c.Publisher("projects/"+testProject+"/topics/domain"))
	require.NotSame(t, first, c.Publisher("other"))
}

func TestPublishDeliversAttributes(t *testing.T) {
	c, srv := newFakeClient(t, testConfig(), true)
	ctx := context.Background()

	id, err := c.Publish(ctx, "domain", []byte(`{"ok":true}`), map[string]string{"event_type": "goal_created"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, `{"ok":true}`, string(msgs[0].Data))
	require.Equal(t, "goal_created", msgs[0].Attributes["event_type"])
}

func TestPublishUnknownTopicName(t *testing.T) {
	c, _ := newFakeClient(t, testConfig(), true)
	_, err := c.Publish(context.Background(), " ", nil, nil)
	require.Error(t, err)
}
