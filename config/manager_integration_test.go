//go:build integration

package config

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/semwire/natsclient"
)

type ManagerIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	manager    *Manager
	target     *recordingTarget
	kvStore    *natsclient.KVStore
	bucket     string
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *ManagerIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T(), natsclient.WithKV())
}

func (s *ManagerIntegrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bucket = "config_" + s.T().Name()[len("TestManagerIntegration/"):]

	cfg := validConfig()
	cfg.Version = "1.0.0"
	cfg.Runtime.ConfigBucket = s.bucket

	s.target = &recordingTarget{}
	var err error
	s.manager, err = NewConfigManager(s.ctx, cfg, s.testClient.Client, s.target, nil)
	s.Require().NoError(err)
	s.kvStore = s.manager.kvStore
}

func (s *ManagerIntegrationSuite) TearDownTest() {
	_ = s.manager.Stop(5 * time.Second)
	s.cancel()
}

func (s *ManagerIntegrationSuite) TestFirstBootPushesFileConfiguration() {
	s.Require().NoError(s.manager.Start(s.ctx))

	entry, err := s.kvStore.Get(s.ctx, "components.greeter")
	s.Require().NoError(err)

	var update ComponentUpdate
	s.Require().NoError(json.Unmarshal(entry.Value, &update))
	s.Require().NotNil(update.Enabled)
	s.True(*update.Enabled)
	s.Equal("hello", update.Properties["greeting"])

	version, err := s.kvStore.Get(s.ctx, "version")
	s.Require().NoError(err)
	s.JSONEq(`"1.0.0"`, string(version.Value))
	s.Empty(s.target.Calls(), "a push does not reconfigure")
}

func (s *ManagerIntegrationSuite) TestBucketWinsOnEqualVersion() {
	_, err := s.kvStore.Put(s.ctx, "version", []byte(`"1.0.0"`))
	s.Require().NoError(err)
	_, err = s.kvStore.Put(s.ctx, "components.greeter", []byte(`{"properties": {"greeting": "from kv"}}`))
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Start(s.ctx))

	calls := s.target.Calls()
	s.Require().Len(calls, 1)
	s.Equal("reconfigure", calls[0].op)
	s.Equal("from kv", calls[0].props["greeting"])
}

func (s *ManagerIntegrationSuite) TestWatchAppliesUpdates() {
	s.Require().NoError(s.manager.Start(s.ctx))
	updates := s.manager.OnChange("components.*")

	_, err := s.kvStore.Put(s.ctx, "components.greeter", []byte(`{"enabled": false}`))
	s.Require().NoError(err)

	select {
	case u := <-updates:
		s.Equal("greeter", u.Component)
	case <-time.After(2 * time.Second):
		s.Fail("no update received")
		return
	}

	calls := s.target.Calls()
	s.Require().Len(calls, 2)
	s.Equal(call{op: "disable", name: "greeter"}, calls[1])

	s.Require().NoError(s.kvStore.Delete(s.ctx, "components.greeter"))
	select {
	case u := <-updates:
		s.True(u.Deleted)
	case <-time.After(2 * time.Second):
		s.Fail("no delete received")
		return
	}
	s.Equal(call{op: "enable", name: "greeter"}, s.target.Calls()[3])
}

func TestManagerIntegration(t *testing.T) {
	suite.Run(t, new(ManagerIntegrationSuite))
}
