package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		name    string
		project string
		topic   string
		want    string
	}{
		{name: "short id", project: "p1", topic: "domain", want: "projects/p1/topics/domain"},
		{name: "trimmed", project: " p1 ", topic: " domain ", want: "projects/p1/topics/domain"},
		{name: "full name", project: "other", topic: "projects/p1/topics/domain", want: "projects/p1/topics/domain"},
		{name: "empty topic", project: "p1", topic: "", want: ""},
		{name: "missing project", project: "", topic: "domain", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TopicResourceName(tc.project, tc.topic))
		})
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{DomainTopic: "d"}, nil)
	assert.ErrorContains(t, err, "project id")

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p1"}, config.PubSubConfig{}, nil)
	assert.ErrorContains(t, err, "domain topic")
}

func TestClientOptionsPickCredentialSource(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{ProjectID: "p1"}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	invalid := Classify(status.Error(codes.InvalidArgument, "message too large"))
	assert.True(t, pkgerrors.HasCode(invalid, pkgerrors.CodeValidation))
	assert.False(t, pkgerrors.IsRetryable(invalid))

	for _, err := range []error{
		status.Error(codes.Unavailable, "try later"),
		status.Error(codes.PermissionDenied, "no"),
		errors.New("context deadline exceeded"),
	} {
		classified := Classify(err)
		assert.True(t, pkgerrors.HasCode(classified, pkgerrors.CodeDependency), err.Error())
		assert.True(t, pkgerrors.IsRetryable(classified))
		assert.ErrorIs(t, classified, err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Close())
	require.Error(t, c.Ping(context.Background()))
}
